package printer

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the printer collaborator's configuration, loaded from a YAML
// file. It has no bearing on the core USB/IP protocol; the core takes no
// configuration beyond listen address/port.
type Config struct {
	IPPServerURL string `yaml:"ipp_server_url"`
	DeviceName   string `yaml:"device_name"`
	VendorID     uint16 `yaml:"vendor_id"`
	ProductID    uint16 `yaml:"product_id"`
	Manufacturer string `yaml:"manufacturer"`
	Product      string `yaml:"product"`
	Serial       string `yaml:"serial"`
	ListenIP     string `yaml:"listen_ip"`
	ListenPort   int    `yaml:"listen_port"`
	Debug        bool   `yaml:"debug"`
}

// DefaultConfig matches the defaults the original printer collaborator
// falls back to when no config file is present.
func DefaultConfig() Config {
	return Config{
		IPPServerURL: "http://localhost:631/ipp/print",
		DeviceName:   "Virtual IPP Printer",
		VendorID:     0x03F0,
		ProductID:    0x1234,
		Manufacturer: "Virtual",
		Product:      "IPP-USB Proxy",
		Serial:       "VIP001",
		ListenIP:     "0.0.0.0",
		ListenPort:   3240,
		Debug:        true,
	}
}

// LoadConfig reads path as YAML, filling any field the file omits from
// DefaultConfig. A missing file is not an error: the defaults are
// returned as-is, mirroring the original's "create if absent" behaviour
// without this rewrite performing implicit disk writes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
