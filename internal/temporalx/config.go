package temporalx

import (
	"github.com/pupscan/pupscan-backend/internal/platform/envutil"
)

// Config is the Temporal connection surface. An empty Address disables
// Temporal entirely: the age-progression job then runs on in-process
// goroutines instead of the worker fleet.
type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	// mTLS material; cert and key must be set together, CA is optional.
	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string
}

func LoadConfig() Config {
	return Config{
		Address:   envutil.String("TEMPORAL_ADDRESS", ""),
		Namespace: envutil.String("TEMPORAL_NAMESPACE", "pupscan"),
		TaskQueue: envutil.String("TEMPORAL_TASK_QUEUE", "pupscan"),

		ClientCertPath: envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:  envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:   envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),
	}
}
