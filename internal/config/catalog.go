package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/purchaseledger/internal/catalog"
	"github.com/spf13/viper"
)

var ErrCatalogNotFound = errors.New("catalog_config_not_found")

// LoadCatalog reads the product catalog. An explicit path wins; otherwise
// catalog.yml is searched in the mounted config volume, /etc and the
// working directory. PURCHASELEDGER_CATALOG_TIERS may override the tiers.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	v := viper.New()

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("catalog")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/purchaseledger/config")
		v.AddConfigPath("/etc/purchaseledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PURCHASELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, ErrCatalogNotFound
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var cfg catalog.Config
	if err := v.UnmarshalKey("catalog", &cfg); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if tiers := v.GetStringSlice("catalog.tiers"); len(tiers) > 0 {
		cfg.Tiers = tiers
	}

	return catalog.New(cfg)
}
