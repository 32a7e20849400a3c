package authcore

import "context"

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyDeviceLabel
)

// WithClientIP attaches the caller's IP to the context so login and refresh
// attempts are attributed in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithDeviceLabel attaches a free-form device description (user agent or a
// client-supplied label) recorded on the session at login.
func WithDeviceLabel(ctx context.Context, label string) context.Context {
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyDeviceLabel, label)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

func deviceLabelFromContext(ctx context.Context) string {
	label, _ := ctx.Value(ctxKeyDeviceLabel).(string)
	return label
}
