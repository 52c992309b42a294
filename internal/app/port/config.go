package port

import "wallet_session/internal/infrastructure/configloader"

// ConfigProvider defines the interface for accessing application configuration.
type ConfigProvider interface {
	GetConfig() *configloader.Config
}
