package procurement

import "strings"

func containsStatus[S ~string](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func statusNames[S ~string](set []S) []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = string(s)
	}
	return out
}

func upper(action string) string {
	return strings.ToUpper(action)
}
