package provider

import (
	"sync"

	"wallet_session/internal/app/port"
	"wallet_session/internal/domain/entity"
	"wallet_session/internal/infrastructure/deploymentloader"
)

type deploymentProviderImpl struct {
	contractsDir string
	networks     port.NetworkDescriptorProvider
	logger       port.Logger

	mu               sync.Mutex
	deploymentsCache []entity.ContractDeployment // Кэш загруженных контрактов
}

// NewDeploymentProvider creates a new DeploymentProvider.
func NewDeploymentProvider(contractsDir string, networks port.NetworkDescriptorProvider, logger port.Logger) port.DeploymentProvider {
	return &deploymentProviderImpl{
		contractsDir: contractsDir,
		networks:     networks,
		logger:       logger,
	}
}

// GetDeployments loads contract address books for the known networks.
// It caches the results after the first successful load.
func (p *deploymentProviderImpl) GetDeployments() ([]entity.ContractDeployment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deploymentsCache != nil {
		p.logger.Debug("Returning cached contract deployments")
		return p.deploymentsCache, nil
	}

	p.logger.Debug("Loading contract deployments from disk", "directory", p.contractsDir)
	loader := deploymentloader.NewDeploymentLoader(p.contractsDir, p.logger.Info, p.logger.Warn)
	deployments, err := loader.LoadDeployments(p.networks.All())
	if err != nil {
		p.logger.Error("Failed to load contract deployments", "directory", p.contractsDir, "error", err)
		return nil, err
	}
	if deployments == nil {
		deployments = []entity.ContractDeployment{}
	}

	p.deploymentsCache = deployments
	p.logger.Info("Contract deployments loaded and cached successfully", "count", len(deployments))
	return deployments, nil
}
