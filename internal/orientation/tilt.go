package orientation

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Pose is roll/pitch/yaw in degrees.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// PoseFromAccel computes roll and pitch from the gravity vector. Yaw is
// unobservable without a magnetometer and is left at 0.
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func PoseFromAccel(accel mgl64.Vec3) Pose {
	ax, ay, az := accel.Elem()
	return Pose{
		Roll:  mgl64.RadToDeg(math.Atan2(ay, az)),
		Pitch: mgl64.RadToDeg(math.Atan2(-ax, math.Sqrt(ay*ay+az*az))),
	}
}
