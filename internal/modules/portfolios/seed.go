package portfolios

import (
	"fmt"
	"os"

	"github.com/aristath/rebalancer/internal/domain"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by LoadSeedFile:
//
//	portfolios:
//	  - id: core
//	    targetWeights: {BTC: 50, ETH: 30, SOL: 20}
//	    rebalanceThreshold: 25
//	    schedulerEnabled: true
type SeedFile struct {
	Portfolios []domain.Portfolio `yaml:"portfolios"`
}

// LoadSeedFile reads and validates portfolios from a YAML file
func LoadSeedFile(path string) ([]domain.Portfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, domain.NewError(domain.KindConfiguration, "portfolios.seed", "invalid seed file", err)
	}

	seen := make(map[string]bool, len(seed.Portfolios))
	for i := range seed.Portfolios {
		p := &seed.Portfolios[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("seed portfolio #%d (%s): %w", i+1, p.ID, err)
		}
		if seen[p.ID] {
			return nil, domain.NewError(domain.KindConfiguration, "portfolios.seed", fmt.Sprintf("duplicate portfolio id %s", p.ID), nil)
		}
		seen[p.ID] = true
	}
	return seed.Portfolios, nil
}

// ImportSeed upserts every portfolio in the seed file and returns how many were stored
func (r *Repository) ImportSeed(path string) (int, error) {
	list, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, p := range list {
		if err := r.Upsert(p); err != nil {
			return 0, err
		}
	}
	r.log.Info().Int("count", len(list)).Str("file", path).Msg("Imported portfolio seed file")
	return len(list), nil
}
