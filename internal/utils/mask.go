package utils

// MaskSecret keeps the first four characters of a secret for log lines.
// An empty secret stays empty so "no token" remains visible.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "*****"
	default:
		return s[:4] + "*****"
	}
}
