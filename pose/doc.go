// Package pose estimates the 6-DoF pose of a calibrated camera from 2D-3D
// correspondences.
//
// Solver runs RANSAC over minimal three-point samples solved with P3P, then
// refines the best hypothesis on its inliers with Levenberg-Marquardt:
//
//	s := pose.NewSolver(func(o *pose.Options) {
//		o.ReprojectionError = 8
//		o.MinInliers = 5
//	})
//	est, err := s.Solve(ctx, points, keypoints, pose.NewCamera(intrinsics))
//	if errors.Is(err, pose.ErrLocalizationFailed) {
//		// per-query failure
//	}
//
// Poses map world to camera coordinates, x_cam = R x_world + t, the
// convention COLMAP uses for image poses.
package pose
