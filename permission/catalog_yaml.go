package permission

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk catalog layout:
//
//	resources:
//	  policy:
//	    - name: policy.read
//	      description: View governance policies
type catalogFile struct {
	Resources map[string][]Permission `yaml:"resources"`
}

// LoadCatalogYAML decodes a catalog file and returns it frozen.
func LoadCatalogYAML(r io.Reader, width int) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Resources) == 0 {
		return nil, invalid("resources", "catalog file has no resources", nil)
	}
	return CatalogFromGroups(width, f.Resources)
}
