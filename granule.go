package godiscover

import (
	"math"
	"net/url"
	"path"
	"strings"
)

// Granule is one discrete unit of scientific data belonging to a collection. The
// files order is significant: the first data-typed file is the canonical download
// target for the downstream ingest.
type Granule struct {
	GranuleID string                 `json:"granuleId"`
	DataType  string                 `json:"dataType"`
	Version   string                 `json:"version"`
	Files     []GranuleFile          `json:"files"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// GranuleFile is one file of a granule.
type GranuleFile struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
}

// relatedURLTypes statically maps the catalog related-URL types to granule file types.
// URL types missing here (project pages and alike) do not describe granule files and
// are left out of the mapping.
var relatedURLTypes = map[string]string{
	"GET DATA":                  "data",
	"GET RELATED VISUALIZATION": "browse",
	"VIEW RELATED INFORMATION":  "metadata",
	"EXTENDED METADATA":         "metadata",
}

// dataURLType is the related-URL type of the canonical download target.
const dataURLType = "GET DATA"

// sizeUnitMultipliers maps declared size units to their 1024-based byte multipliers.
var sizeUnitMultipliers = map[string]float64{
	"B":  1,
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": float64(int64(1) << 40),
	"PB": float64(int64(1) << 50),
}

// mapGranule converts one raw catalog record into a domain granule belonging to the
// passed collection. Records that map to zero files are incomplete and yield nil: they
// are dropped upstream of the duplicate filter.
func mapGranule(record RawRecord, collection *Collection) *Granule {
	granuleID := stringField(record, "GranuleUR")
	if granuleID == "" {
		return nil
	}
	files := mapGranuleFiles(record)
	if len(files) == 0 {
		return nil
	}
	return &Granule{
		GranuleID: granuleID,
		DataType:  collection.ShortName,
		Version:   collection.Version,
		Files:     files,
	}
}

// recordCollectionRef extracts the parent collection reference of a raw record. The
// reference carries either a short name/version pair or only an entry title to be
// resolved by an additional lookup.
func recordCollectionRef(record RawRecord) (shortName, version, entryTitle string) {
	reference := mapField(record, "CollectionReference")
	return stringField(reference, "ShortName"), stringField(reference, "Version"), stringField(reference, "EntryTitle")
}

// mapGranuleFiles converts the record related URLs into granule files, preserving
// their order and resolving each file's byte size from the record's archive and
// distribution information.
func mapGranuleFiles(record RawRecord) []GranuleFile {
	urls := listField(record, "RelatedUrls")
	distribution := distributionEntries(record)
	files := make([]GranuleFile, 0, len(urls))
	for _, entry := range urls {
		related, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		urlType := stringField(related, "Type")
		fileType, ok := relatedURLTypes[urlType]
		if !ok {
			continue
		}
		rawURL := stringField(related, "URL")
		if rawURL == "" {
			continue
		}
		dir, name := splitURL(rawURL)
		files = append(files, GranuleFile{
			Type:     fileType,
			Path:     dir,
			Name:     name,
			Filename: rawURL,
			Size:     fileSize(rawURL, urlType, distribution),
		})
	}
	return files
}

// distributionEntries returns the record's ArchiveAndDistributionInformation list,
// whether nested under DataGranule or declared at the record top level.
func distributionEntries(record RawRecord) []interface{} {
	if dataGranule := mapField(record, "DataGranule"); dataGranule != nil {
		if entries := listField(dataGranule, "ArchiveAndDistributionInformation"); entries != nil {
			return entries
		}
	}
	return listField(record, "ArchiveAndDistributionInformation")
}

// fileSize resolves the byte size of the file behind the passed URL by matching the
// distribution entry name as the URL suffix. A data-typed link falls back to the sole
// distribution entry when exactly one exists, since that entry can only describe the
// download target.
func fileSize(rawURL, urlType string, distribution []interface{}) int64 {
	for _, entry := range distribution {
		info, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(info, "Name")
		if name != "" && strings.HasSuffix(rawURL, name) {
			return entryBytes(info)
		}
	}
	if urlType == dataURLType && len(distribution) == 1 {
		if info, ok := distribution[0].(map[string]interface{}); ok {
			return entryBytes(info)
		}
	}
	return 0
}

// entryBytes converts one distribution entry size declaration to bytes, rounding to
// the nearest integer. An explicit SizeInBytes declaration wins over the Size plus
// SizeUnit pair.
func entryBytes(info map[string]interface{}) int64 {
	if bytes, ok := numberField(info, "SizeInBytes"); ok {
		return int64(math.Round(bytes))
	}
	size, ok := numberField(info, "Size")
	if !ok {
		return 0
	}
	multiplier, ok := sizeUnitMultipliers[strings.ToUpper(stringField(info, "SizeUnit"))]
	if !ok {
		return 0
	}
	return int64(math.Round(size * multiplier))
}

// splitURL splits the passed URL into its parent directory and final segment.
func splitURL(rawURL string) (dir, name string) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Dir(rawURL), path.Base(rawURL)
	}
	return path.Dir(parsed.Path), path.Base(parsed.Path)
}

// stringField returns the string value stored in the mapping under the passed key.
func stringField(mapping map[string]interface{}, key string) string {
	if mapping == nil {
		return ""
	}
	value, _ := mapping[key].(string)
	return value
}

// mapField returns the nested mapping stored under the passed key.
func mapField(mapping map[string]interface{}, key string) map[string]interface{} {
	if mapping == nil {
		return nil
	}
	value, _ := mapping[key].(map[string]interface{})
	return value
}

// listField returns the list stored in the mapping under the passed key.
func listField(mapping map[string]interface{}, key string) []interface{} {
	if mapping == nil {
		return nil
	}
	value, _ := mapping[key].([]interface{})
	return value
}

// numberField returns the numeric value stored in the mapping under the passed key.
func numberField(mapping map[string]interface{}, key string) (float64, bool) {
	if mapping == nil {
		return 0, false
	}
	value, ok := mapping[key].(float64)
	return value, ok
}
