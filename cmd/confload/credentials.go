package main

import (
	"fmt"
	"os"

	"confload/internal/core/domain"
	"confload/pkg/errors"

	"gopkg.in/yaml.v2"
)

// loadCredentials reads the ordered credential list assigned to the
// fleet positionally: entry i logs in user i.
func loadCredentials(path string) ([]domain.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("cannot read credentials file %s: %v", path, err))
	}

	var entries []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("invalid credentials file %s: %v", path, err))
	}

	credentials := make([]domain.Credential, 0, len(entries))
	for i, e := range entries {
		if e.Username == "" {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("credentials file %s: entry %d has no username", path, i))
		}
		credentials = append(credentials, domain.Credential{
			Username: e.Username,
			Password: e.Password,
		})
	}
	return credentials, nil
}
