package hloc_test

import (
	"fmt"
	"log"
	"strings"

	"github.com/hupe1980/hloc"
	"github.com/hupe1980/hloc/pose"
	"gonum.org/v1/gonum/num/quat"
)

// ExampleParseConfig loads a configuration over the defaults.
func ExampleParseConfig() {
	cfg, err := hloc.ParseConfig(strings.NewReader(`
retrieval:
  strategy: lsh
  k: 10
verify: all
augmentation: true
`))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Retrieval.Strategy, cfg.Retrieval.K, cfg.Verify, cfg.Matching.Ratio)
	// Output: lsh 10 all 0.75
}

// ExampleConfig_Validate shows how configuration errors are reported.
func ExampleConfig_Validate() {
	cfg := hloc.DefaultConfig()
	cfg.Augmentation = true

	fmt.Println(cfg.Validate())
	// Output: invalid configuration: augmentation: requires a verification mode
}

// ExampleResult_Line formats a localized query for the results file.
func ExampleResult_Line() {
	r := hloc.Result{
		Name: "query/night/1.jpg",
		Estimate: pose.Estimate{
			Rotation:    quat.Number{Real: 1},
			Translation: [3]float64{0.5, -1, 2.25},
		},
	}

	fmt.Println(r.Line())
	// Output: query/night/1.jpg 1 0 0 0 0.5 -1 2.25
}
