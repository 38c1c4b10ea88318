package adapter

// legacyMsgTypeAliases maps pre-ROS2-namespacing message type strings to
// their fully-qualified form (spec.md §6). Applied on ingress and to
// every channel config the Fleet Registry builds from inventory data.
var legacyMsgTypeAliases = map[string]string{
	"nav_msgs/Odometry":       "nav_msgs/msg/Odometry",
	"sensor_msgs/LaserScan":   "sensor_msgs/msg/LaserScan",
	"nav_msgs/Path":           "nav_msgs/msg/Path",
	"std_msgs/String":         "std_msgs/msg/String",
	"geometry_msgs/Twist":     "geometry_msgs/msg/Twist",
}

// NormalizeMsgType rewrites a legacy (pre-namespaced) message type to
// its canonical form; unrecognized strings pass through unchanged.
func NormalizeMsgType(msgType string) string {
	if canonical, ok := legacyMsgTypeAliases[msgType]; ok {
		return canonical
	}
	return msgType
}
