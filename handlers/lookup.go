package handlers

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jpcarrera/go-coverage-unifier/utils"
	"github.com/sahilm/fuzzy"
	"github.com/twpayne/go-geos"
)

// Provinces maps the six supported province names to their boundary files
// under the boundary directory.
var Provinces = map[string]string{
	"AZUAY":            "azuay.geojson",
	"CAÑAR":            "cañar.geojson",
	"EL ORO":           "el_oro.geojson",
	"LOJA":             "loja.geojson",
	"MORONA SANTIAGO":  "morona_santiago.geojson",
	"ZAMORA CHINCHIPE": "zamora_chinchipe.geojson",
}

// ProvinceNames returns the supported provinces in a stable order.
func ProvinceNames() []string {
	names := make([]string, 0, len(Provinces))
	for name := range Provinces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProvinceFile resolves a province selection, case-insensitively, to its
// boundary file name.
func ProvinceFile(province string) (string, error) {
	needle := strings.ToUpper(strings.TrimSpace(province))
	for name, file := range Provinces {
		if strings.ToUpper(name) == needle {
			return file, nil
		}
	}
	return "", fmt.Errorf("unknown province %q", province)
}

// BoundaryDataset is one administrative boundary layer, loaded from disk.
type BoundaryDataset struct {
	Name     string
	CRS      string
	Features []utils.LoadedFeature
}

// RegionMatch is the outcome of a name lookup. Geom is borrowed from the
// dataset and stays valid for as long as the dataset does.
type RegionMatch struct {
	Geom        *geos.Geom
	Name        string
	MatchColumn string
	MatchCount  int
	Properties  map[string]interface{}
}

var ErrRegionNotFound = errors.New("region not found")

// FindRegionByName scans the dataset for the first feature whose name
// contains the query, case-insensitively. The primary name column is tried
// first, then the remaining text columns in sorted order, so repeated runs
// always pick the same feature. When several features match, the first one
// wins and MatchCount reports how many there were.
func FindRegionByName(dataset *BoundaryDataset, query, primaryColumn string) (*RegionMatch, error) {
	if dataset == nil || len(dataset.Features) == 0 {
		return nil, fmt.Errorf("boundary dataset is empty")
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, fmt.Errorf("region query is empty")
	}

	for _, column := range searchColumns(dataset, primaryColumn) {
		var first *RegionMatch
		count := 0
		for i := range dataset.Features {
			value, ok := stringProperty(dataset.Features[i].Properties, column)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(value), needle) {
				count++
				if first == nil {
					first = &RegionMatch{
						Geom:        dataset.Features[i].Geom,
						Name:        value,
						MatchColumn: column,
						Properties:  dataset.Features[i].Properties,
					}
				}
			}
		}
		if first != nil {
			first.MatchCount = count
			if count > 1 {
				log.Printf("Query %q matched %d features in column %s, using %q", query, count, column, first.Name)
			}
			return first, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrRegionNotFound, query)
}

// SuggestRegions returns up to limit region names that fuzzy-match the
// query, best matches first. Used to build "did you mean" hints when a
// lookup comes back empty.
func SuggestRegions(dataset *BoundaryDataset, query, primaryColumn string, limit int) []string {
	if dataset == nil || limit <= 0 {
		return nil
	}
	names := regionNames(dataset, primaryColumn)
	matches := fuzzy.Find(query, names)

	var suggestions []string
	for _, match := range matches {
		suggestions = append(suggestions, match.Str)
		if len(suggestions) == limit {
			break
		}
	}
	return suggestions
}

// searchColumns lists every text column of the dataset, with the primary
// name column in front.
func searchColumns(dataset *BoundaryDataset, primary string) []string {
	seen := make(map[string]bool)
	var columns []string
	for i := range dataset.Features {
		for key, value := range dataset.Features[i].Properties {
			if _, ok := value.(string); !ok {
				continue
			}
			if !seen[key] {
				seen[key] = true
				columns = append(columns, key)
			}
		}
	}
	sort.Strings(columns)

	if primary == "" || !seen[primary] {
		return columns
	}
	ordered := make([]string, 0, len(columns))
	ordered = append(ordered, primary)
	for _, column := range columns {
		if column != primary {
			ordered = append(ordered, column)
		}
	}
	return ordered
}

// regionNames collects the distinct values of the primary name column, or of
// every text column when no primary is configured.
func regionNames(dataset *BoundaryDataset, primaryColumn string) []string {
	seen := make(map[string]bool)
	var names []string
	for i := range dataset.Features {
		for key, value := range dataset.Features[i].Properties {
			text, ok := value.(string)
			if !ok || text == "" {
				continue
			}
			if primaryColumn != "" && key != primaryColumn {
				continue
			}
			if !seen[text] {
				seen[text] = true
				names = append(names, text)
			}
		}
	}
	sort.Strings(names)
	return names
}

func stringProperty(properties map[string]interface{}, key string) (string, bool) {
	value, ok := properties[key]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}
