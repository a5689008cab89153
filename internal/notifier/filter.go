package notifier

import "github.com/user/gitwatch/internal/event"

// Allows reports whether a subscriber with the enabled set wants kind k.
// Webhook and polling deliveries go through this same check.
func Allows(enabled event.KindSet, k event.Kind) bool {
	return enabled.Has(k)
}
