package audit

import "strings"

// ActionResource holds action and resource derived from a gRPC full method name.
type ActionResource struct {
	Action   string
	Resource string
	// Mutating is false for Get/List calls, which the audit interceptor skips.
	Mutating bool
}

// Management methods whose names do not split cleanly into verb + resource.
var methodOverrides = map[string]ActionResource{
	"RotateWebhookSecret":      {Action: "secret_rotated", Resource: "webhook", Mutating: true},
	"TestWebhook":              {Action: "test_sent", Resource: "webhook", Mutating: true},
	"EnrollLead":               {Action: "enrolled", Resource: "sequence_enrollment", Mutating: true},
	"UnenrollLead":             {Action: "unenrolled", Resource: "sequence_enrollment", Mutating: true},
	"SetSequenceActive":        {Action: "status_changed", Resource: "sequence", Mutating: true},
	"MarkNotificationRead":     {Action: "read", Resource: "notification", Mutating: true},
	"MarkAllNotificationsRead": {Action: "read_all", Resource: "notification", Mutating: true},
	"RetryJob":                 {Action: "retried", Resource: "job", Mutating: true},
	"EmitEvent":                {Action: "emit", Resource: "event", Mutating: true},
}

var verbs = []struct {
	prefix, action string
	mutating       bool
}{
	{"Get", "get", false},
	{"List", "list", false},
	{"Create", "create", true},
	{"Configure", "configure", true},
	{"Update", "update", true},
	{"Remove", "remove", true},
	{"Delete", "delete", true},
}

// ParseFullMethod returns action and resource for a gRPC full method
// (e.g. /flowcrm.automation.v1.AutomationService/ConfigureWebhook -> configure, webhook).
func ParseFullMethod(fullMethod string) ActionResource {
	slash := strings.LastIndex(fullMethod, "/")
	if slash < 0 {
		return ActionResource{Action: "unknown", Resource: "unknown", Mutating: true}
	}
	method := fullMethod[slash+1:]
	if ar, ok := methodOverrides[method]; ok {
		return ar
	}
	for _, v := range verbs {
		if strings.HasPrefix(method, v.prefix) && len(method) > len(v.prefix) {
			return ActionResource{Action: v.action, Resource: toSnake(singular(method[len(v.prefix):])), Mutating: v.mutating}
		}
	}
	return ActionResource{Action: toSnake(method), Resource: "unknown", Mutating: true}
}

func singular(s string) string {
	switch {
	case strings.HasSuffix(s, "ies"):
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "Stats"):
		return s
	case strings.HasSuffix(s, "s"):
		return s[:len(s)-1]
	}
	return s
}

// toSnake turns WebhookDelivery into webhook_delivery.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
