package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed is an inventory of users and servers loaded into an empty database
// on startup. It exists for development and demo deployments where the
// provisioning workflow is not running.
type Seed struct {
	Users   []SeedUser   `yaml:"users"`
	Servers []SeedServer `yaml:"servers"`
}

type SeedUser struct {
	ID       uint   `yaml:"id"`
	Username string `yaml:"username"`
	Role     string `yaml:"role"`
}

type SeedServer struct {
	ID        uint   `yaml:"id"`
	Name      string `yaml:"name"`
	IPAddress string `yaml:"ip_address"`
	Port      int    `yaml:"port"`
	Status    string `yaml:"status"`
	UserID    uint   `yaml:"user_id"`
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	users := make(map[uint]bool, len(s.Users))
	for i, u := range s.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("seed user %d: username is required", i)
		}
		if u.Role == "" {
			s.Users[i].Role = "user"
		}
		if u.ID != 0 {
			users[u.ID] = true
		}
	}
	for i, srv := range s.Servers {
		if srv.Name == "" {
			return nil, fmt.Errorf("seed server %d: name is required", i)
		}
		if srv.UserID == 0 {
			return nil, fmt.Errorf("seed server %q: user_id is required", srv.Name)
		}
		if len(users) > 0 && !users[srv.UserID] {
			return nil, fmt.Errorf("seed server %q: unknown user_id %d", srv.Name, srv.UserID)
		}
		if srv.Status == "" {
			s.Servers[i].Status = "provisioning"
		}
	}
	return &s, nil
}
