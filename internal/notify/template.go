package notify

import "strings"

func defaultTitle(kind Kind) string {
	switch kind {
	case KindCalled:
		return "It's your turn"
	case KindSkipped:
		return "Your queue was skipped"
	case KindNear:
		return "Almost your turn"
	}
	return ""
}

func defaultMessage(kind Kind, hasLocation bool) string {
	switch kind {
	case KindCalled:
		if hasLocation {
			return "Queue {queue_number}, please proceed to {location}."
		}
		return "Queue {queue_number}, please proceed to {department}."
	case KindSkipped:
		return "Queue {queue_number} was skipped. Please contact the {department} counter."
	case KindNear:
		return "Queue {queue_number} is number {position} in line. Please stay nearby."
	}
	return ""
}

func renderTemplate(template string, values map[string]string) string {
	result := template
	for _, key := range []string{"queue_number", "vn", "department", "location", "position"} {
		result = strings.ReplaceAll(result, "{"+key+"}", values[key])
	}
	return result
}
