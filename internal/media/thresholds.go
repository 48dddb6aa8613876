package media

// Thresholds drive transport selection. StandardLimit is the Bot API upload cap,
// HighCapacityLimit the MTProto one.
type Thresholds struct {
	StandardLimit       int64
	HighCapacityLimit   int64
	CompressionTargetMB float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		StandardLimit:       50 * MB,
		HighCapacityLimit:   2000 * MB,
		CompressionTargetMB: 48,
	}
}
