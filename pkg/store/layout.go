package store

import (
	"fmt"
)

// Config scope address map.
const (
	AddrWriteCursor    = 0
	AddrReadCursor     = 4
	AddrMode           = 8
	AddrUpdateInterval = 12
	AddrBatchThreshold = 16
	AddrNetworks       = 20
	AddrMagic          = 24
	AddrResetting      = 28
	AddrMAC            = 32
	AddrAPIKey         = 64
	AddrSSID           = 128
	AddrPhrase         = 288

	MACWidth    = 32
	APIKeyWidth = 64
	SSIDWidth   = 32
	PhraseWidth = 64
	MaxNetworks = 5

	// LayoutSize is the minimum config scope size the map needs.
	LayoutSize = AddrPhrase + MaxNetworks*PhraseWidth
)

// Magic marks a config scope that has been seeded.
const Magic int32 = 0x53434B31 // "SCK1"

// Network is a stored Wi-Fi credential.
type Network struct {
	SSID   string
	Phrase string
}

// Settings are the persisted device settings.
type Settings struct {
	Mode           int32
	UpdateInterval int32 // seconds
	BatchThreshold int32
	MAC            string
	APIKey         string
	Networks       []Network
}

// ReadSettings loads the settings from the config scope.
func ReadSettings(s Store) (Settings, error) {
	var out Settings
	var err error

	if out.Mode, err = s.ReadScalar(Config, AddrMode); err != nil {
		return out, fmt.Errorf("failed to read mode: %w", err)
	}
	if out.UpdateInterval, err = s.ReadScalar(Config, AddrUpdateInterval); err != nil {
		return out, fmt.Errorf("failed to read update interval: %w", err)
	}
	if out.BatchThreshold, err = s.ReadScalar(Config, AddrBatchThreshold); err != nil {
		return out, fmt.Errorf("failed to read batch threshold: %w", err)
	}
	if out.MAC, err = s.ReadString(Config, AddrMAC, MACWidth); err != nil {
		return out, fmt.Errorf("failed to read MAC: %w", err)
	}
	if out.APIKey, err = s.ReadString(Config, AddrAPIKey, APIKeyWidth); err != nil {
		return out, fmt.Errorf("failed to read API key: %w", err)
	}
	if out.Networks, err = ReadNetworks(s); err != nil {
		return out, err
	}
	return out, nil
}

// WriteSettings persists every setting to the config scope.
func WriteSettings(s Store, in Settings) error {
	scalars := []struct {
		addr int
		v    int32
	}{
		{AddrMode, in.Mode},
		{AddrUpdateInterval, in.UpdateInterval},
		{AddrBatchThreshold, in.BatchThreshold},
	}
	for _, sc := range scalars {
		if err := s.WriteScalar(Config, sc.addr, sc.v); err != nil {
			return fmt.Errorf("failed to write setting at %d: %w", sc.addr, err)
		}
	}
	if err := s.WriteString(Config, AddrMAC, MACWidth, in.MAC); err != nil {
		return fmt.Errorf("failed to write MAC: %w", err)
	}
	if err := s.WriteString(Config, AddrAPIKey, APIKeyWidth, in.APIKey); err != nil {
		return fmt.Errorf("failed to write API key: %w", err)
	}
	return WriteNetworks(s, in.Networks)
}

// ReadNetworks loads the stored Wi-Fi credentials.
func ReadNetworks(s Store) ([]Network, error) {
	n, err := s.ReadScalar(Config, AddrNetworks)
	if err != nil {
		return nil, fmt.Errorf("failed to read network count: %w", err)
	}
	if n < 0 || n > MaxNetworks {
		n = 0
	}

	nets := make([]Network, 0, n)
	for i := 0; i < int(n); i++ {
		ssid, err := s.ReadString(Config, AddrSSID+i*SSIDWidth, SSIDWidth)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssid %d: %w", i, err)
		}
		phrase, err := s.ReadString(Config, AddrPhrase+i*PhraseWidth, PhraseWidth)
		if err != nil {
			return nil, fmt.Errorf("failed to read phrase %d: %w", i, err)
		}
		nets = append(nets, Network{SSID: ssid, Phrase: phrase})
	}
	return nets, nil
}

// WriteNetworks replaces the stored Wi-Fi credentials.
func WriteNetworks(s Store, nets []Network) error {
	if len(nets) > MaxNetworks {
		return fmt.Errorf("too many networks: %d > %d", len(nets), MaxNetworks)
	}
	for i, n := range nets {
		if err := s.WriteString(Config, AddrSSID+i*SSIDWidth, SSIDWidth, n.SSID); err != nil {
			return fmt.Errorf("failed to write ssid %d: %w", i, err)
		}
		if err := s.WriteString(Config, AddrPhrase+i*PhraseWidth, PhraseWidth, n.Phrase); err != nil {
			return fmt.Errorf("failed to write phrase %d: %w", i, err)
		}
	}
	// Count last: a torn update leaves the previous count pointing at
	// complete entries.
	if err := s.WriteScalar(Config, AddrNetworks, int32(len(nets))); err != nil {
		return fmt.Errorf("failed to write network count: %w", err)
	}
	return nil
}

// Seed writes defaults into a store that has never been seeded and reports
// whether it did.
func Seed(s Store, defaults Settings) (bool, error) {
	magic, err := s.ReadScalar(Config, AddrMagic)
	if err != nil {
		return false, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic == Magic {
		return false, nil
	}

	if err := s.WriteScalar(Config, AddrWriteCursor, 0); err != nil {
		return false, fmt.Errorf("failed to reset write cursor: %w", err)
	}
	if err := s.WriteScalar(Config, AddrReadCursor, 0); err != nil {
		return false, fmt.Errorf("failed to reset read cursor: %w", err)
	}
	if err := s.WriteScalar(Config, AddrResetting, 0); err != nil {
		return false, fmt.Errorf("failed to clear reset marker: %w", err)
	}
	if err := WriteSettings(s, defaults); err != nil {
		return false, err
	}
	if err := s.WriteScalar(Config, AddrMagic, Magic); err != nil {
		return false, fmt.Errorf("failed to write magic: %w", err)
	}
	return true, nil
}
