package deploymentloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"wallet_session/internal/domain/entity"
	"wallet_session/internal/domain/schema"
	"wallet_session/internal/pkg/utils"
)

// DefaultDirectoryPath holds one <network identifier>.json address book per network.
const DefaultDirectoryPath = "data/contracts"

// DeploymentFileLoader reads contract address books.
type DeploymentFileLoader struct {
	dirPath    string
	loggerInfo func(msg string, args ...any)
	loggerWarn func(msg string, args ...any)
}

// NewDeploymentLoader creates a loader for dirPath (DefaultDirectoryPath when empty).
func NewDeploymentLoader(dirPath string, loggerInfo func(msg string, args ...any), loggerWarn func(msg string, args ...any)) *DeploymentFileLoader {
	if dirPath == "" {
		dirPath = DefaultDirectoryPath
	}
	return &DeploymentFileLoader{
		dirPath:    dirPath,
		loggerInfo: loggerInfo,
		loggerWarn: loggerWarn,
	}
}

// LoadDeployments scans the directory, reads the files of known networks and validates the chain ids.
// A missing directory yields no deployments. Unreadable files and mismatched entries are skipped.
// Имя файла без расширения - идентификатор сети.
func (l *DeploymentFileLoader) LoadDeployments(networks []entity.NetworkDescriptor) ([]entity.ContractDeployment, error) {
	files, err := os.ReadDir(l.dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			if l.loggerWarn != nil {
				l.loggerWarn("Contract directory does not exist, no contracts will be loaded", "path", l.dirPath)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read contract directory %s: %w", l.dirPath, err)
	}

	known := make(map[string]entity.NetworkDescriptor, len(networks))
	for _, n := range networks {
		known[n.Identifier] = n
	}

	var deployments []entity.ContractDeployment
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(strings.ToLower(file.Name()), ".json") {
			continue
		}

		networkID := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		network, ok := known[networkID]
		if !ok {
			if l.loggerInfo != nil {
				l.loggerInfo("Contract file found for an unknown network, skipping.", "file", file.Name(), "network_identifier_from_file", networkID)
			}
			continue
		}

		filePath := filepath.Join(l.dirPath, file.Name())
		inFile, err := utils.LoadJSONFile[[]entity.ContractDeployment](filePath)
		if err != nil {
			if l.loggerWarn != nil {
				l.loggerWarn("Failed to load contracts from file, skipping file.", "path", filePath, "error", err)
			}
			continue
		}

		valid := 0
		for _, d := range inFile {
			if d.ChainID != 0 && d.ChainID != network.ChainID {
				if l.loggerWarn != nil {
					l.loggerWarn("Contract has mismatched chainId in file, skipping contract.",
						"file", filePath, "contract", d.Name, "contract_chain_id", d.ChainID,
						"expected_network_identifier", network.Identifier, "expected_chain_id", network.ChainID)
				}
				continue
			}
			if _, err := d.ContractAddress(); err != nil {
				if l.loggerWarn != nil {
					l.loggerWarn("Contract has an invalid address, skipping contract.", "file", filePath, "contract", d.Name, "error", err)
				}
				continue
			}
			if _, ok := schema.Lookup(d.Schema); !ok {
				if l.loggerWarn != nil {
					l.loggerWarn("Contract references an unknown schema, skipping contract.", "file", filePath, "contract", d.Name, "schema", d.Schema)
				}
				continue
			}
			d.Network = network.Identifier
			d.ChainID = network.ChainID
			deployments = append(deployments, d)
			valid++
		}
		if l.loggerInfo != nil {
			l.loggerInfo("Loaded contracts for network from file", "network_identifier", network.Identifier, "file", file.Name(), "count", valid)
		}
	}
	return deployments, nil
}
