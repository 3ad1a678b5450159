package relay

import "errors"

var (
	// ErrAlreadyRegistered is reported when a receiver registers under a name
	// that already has an active receiver.
	ErrAlreadyRegistered = errors.New("channel already has a receiver")
	// ErrNotRegistered is reported when unregistering a name with no receiver.
	ErrNotRegistered = errors.New("channel has no receiver")
	// ErrPendingOverwritten is reported when a buffered payload is replaced
	// before any receiver picked it up.
	ErrPendingOverwritten = errors.New("pending payload overwritten before pickup")
	// ErrLockUnavailable is reported when the registry lock could not be
	// acquired in time.
	ErrLockUnavailable = errors.New("registry lock unavailable")
	// ErrSinkPanicked is reported when a sink panics during delivery.
	ErrSinkPanicked = errors.New("sink panicked during delivery")
	// ErrNilSink is reported when Register is called without a sink.
	ErrNilSink = errors.New("nil sink")
)

// Anomaly classifies a non-fatal usage or contention problem. Anomalies are
// logged and counted, never returned to the caller.
type Anomaly string

const (
	AnomalyDuplicateRegister  Anomaly = "duplicate_register"
	AnomalySpuriousUnregister Anomaly = "spurious_unregister"
	AnomalyLostUpdate         Anomaly = "lost_update"
	AnomalyLockUnavailable    Anomaly = "lock_unavailable"
	AnomalySinkPanic          Anomaly = "sink_panic"
	AnomalyNilSink            Anomaly = "nil_sink"
)

// Err returns the sentinel error attached to log records for this anomaly.
func (a Anomaly) Err() error {
	switch a {
	case AnomalyDuplicateRegister:
		return ErrAlreadyRegistered
	case AnomalySpuriousUnregister:
		return ErrNotRegistered
	case AnomalyLostUpdate:
		return ErrPendingOverwritten
	case AnomalyLockUnavailable:
		return ErrLockUnavailable
	case AnomalySinkPanic:
		return ErrSinkPanicked
	case AnomalyNilSink:
		return ErrNilSink
	default:
		return errors.New(string(a))
	}
}

func (a Anomaly) message() string {
	switch a {
	case AnomalyDuplicateRegister:
		return "tried to register receiver twice"
	case AnomalySpuriousUnregister:
		return "tried to remove non-registered receiver"
	case AnomalyLostUpdate:
		return "buffered update replaced before a receiver attached"
	case AnomalyLockUnavailable:
		return "failed to acquire registry lock, operation dropped"
	case AnomalySinkPanic:
		return "receiver sink panicked"
	case AnomalyNilSink:
		return "refusing to register nil sink"
	default:
		return "relay anomaly"
	}
}
