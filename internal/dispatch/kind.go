package dispatch

// Kind is the closed set of provider event names this service acts on.
type Kind int

const (
	KindUnknown Kind = iota
	KindSubscriptionCreated
	KindSubscriptionUpdated
	KindSubscriptionCancelled
	KindSubscriptionResumed
	KindSubscriptionExpired
	KindSubscriptionPaused
	KindSubscriptionUnpaused
	KindSubscriptionPaymentSuccess
	KindSubscriptionPaymentFailed
)

var kindNames = map[Kind]string{
	KindSubscriptionCreated:        "subscription_created",
	KindSubscriptionUpdated:        "subscription_updated",
	KindSubscriptionCancelled:      "subscription_cancelled",
	KindSubscriptionResumed:        "subscription_resumed",
	KindSubscriptionExpired:        "subscription_expired",
	KindSubscriptionPaused:         "subscription_paused",
	KindSubscriptionUnpaused:       "subscription_unpaused",
	KindSubscriptionPaymentSuccess: "subscription_payment_success",
	KindSubscriptionPaymentFailed:  "subscription_payment_failed",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps a provider event name to a Kind. Unrecognised names yield KindUnknown.
func ParseKind(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// KnownKinds lists every kind except KindUnknown.
func KnownKinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindSubscriptionCreated; k <= KindSubscriptionPaymentFailed; k++ {
		out = append(out, k)
	}
	return out
}
