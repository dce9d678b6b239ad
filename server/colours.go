package server

const (
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	red     = "\033[31m"
	gray    = "\033[90m"
	reset   = "\033[0m"
)

func methodColour(method string) string {
	switch method {
	case "GET":
		return green
	case "POST":
		return blue
	case "DELETE":
		return yellow
	case "PUT", "PATCH":
		return magenta
	}
	return gray
}

// statusColour treats redirects as successes.
func statusColour(status int) string {
	switch {
	case status >= 500:
		return red
	case status >= 400:
		return yellow
	default:
		return green
	}
}
