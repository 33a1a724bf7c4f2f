package utils

// BoolToYesNo renders a flag for operator output.
func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}

	return "No"
}
