package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"
)

// GroupDirectory is the static on-disk map of cluster -> program/group/market
// addresses the bot needs before it can read anything on-chain: ids.json
// (§6). Unlike Group/MarginAccount/etc, this file is never decoded from
// on-chain bytes — it is operator-maintained JSON, analogous to a foundry
// deployment manifest.
type GroupDirectory struct {
	Clusters    map[string]ClusterDirectory `json:"-"`
	ClusterURLs map[string]string           `json:"cluster_urls"`
}

// ClusterDirectory is one cluster's entry in ids.json.
type ClusterDirectory struct {
	ProgramID    string                 `json:"program_id"`
	DexProgramID string                 `json:"dex_program_id"`
	MangoGroups  map[string]GroupEntry  `json:"mango_groups"`
}

// GroupEntry names one trading group's addresses and per-market metadata.
type GroupEntry struct {
	MangoGroupPk string        `json:"mango_group_pk"`
	Oracles      []string      `json:"oracles"`
	SpotMarkets  []MarketEntry `json:"spot_markets"`
	Symbols      []string      `json:"symbols"`
}

// MarketEntry carries the Serum market addresses the codec's GROUP layout
// does not itself decode: bids/asks/event-queue, needed by the instruction
// builders and the trade executor's order-book reads.
type MarketEntry struct {
	Market     string `json:"market"`
	BaseMint   string `json:"base_mint"`
	QuoteMint  string `json:"quote_mint"`
	Bids       string `json:"bids"`
	Asks       string `json:"asks"`
	EventQueue string `json:"event_queue"`
	BaseVault  string `json:"base_vault"`
	QuoteVault string `json:"quote_vault"`
	RequestQueue string `json:"request_queue"`
}

// rawDirectory mirrors ids.json's actual shape: every top-level key except
// "cluster_urls" is a cluster name, so it can't be unmarshaled directly
// into a typed struct field.
type rawDirectory map[string]json.RawMessage

// LoadGroupDirectory reads and parses ids.json at path.
func LoadGroupDirectory(path string) (*GroupDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read group directory %s: %w", path, err)
	}

	var raw rawDirectory
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse group directory %s: %w", path, err)
	}

	dir := &GroupDirectory{Clusters: make(map[string]ClusterDirectory)}
	for key, msg := range raw {
		if key == "cluster_urls" {
			if err := json.Unmarshal(msg, &dir.ClusterURLs); err != nil {
				return nil, fmt.Errorf("parse cluster_urls in %s: %w", path, err)
			}
			continue
		}
		var cd ClusterDirectory
		if err := json.Unmarshal(msg, &cd); err != nil {
			return nil, fmt.Errorf("parse cluster %q in %s: %w", key, path, err)
		}
		dir.Clusters[key] = cd
	}
	return dir, nil
}

// ResolveClusterURL returns the configured cluster_url override, or the
// directory's default URL for cluster, per §6's precedence.
func (d *GroupDirectory) ResolveClusterURL(cluster, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	url, ok := d.ClusterURLs[cluster]
	if !ok {
		return "", fmt.Errorf("no cluster_url configured or found in group directory for cluster %q", cluster)
	}
	return url, nil
}

// Group looks up one group entry by cluster and group name.
func (d *GroupDirectory) Group(cluster, groupName string) (ClusterDirectory, GroupEntry, error) {
	cd, ok := d.Clusters[cluster]
	if !ok {
		return ClusterDirectory{}, GroupEntry{}, fmt.Errorf("cluster %q not found in group directory", cluster)
	}
	ge, ok := cd.MangoGroups[groupName]
	if !ok {
		return ClusterDirectory{}, GroupEntry{}, fmt.Errorf("group %q not found under cluster %q", groupName, cluster)
	}
	return cd, ge, nil
}

// PublicKey parses an address string, wrapping the error with its field
// name so a typo in ids.json points back at the offending key.
func PublicKey(field, address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parse %s %q: %w", field, address, err)
	}
	return pk, nil
}
