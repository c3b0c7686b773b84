package synth

// clampRate bounds a speech rate to the -10..10 scale the config uses,
// which is also SAPI's native range.
func clampRate(rate int) int {
	if rate < -10 {
		return -10
	}
	if rate > 10 {
		return 10
	}
	return rate
}

// volumePercent maps the 0.0..1.0 config volume onto a 0..100 scale.
func volumePercent(volume float64) int {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return int(volume * 100)
}
