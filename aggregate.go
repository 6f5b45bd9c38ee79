package certd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

const (
	envCertPrefix = "cert_"
	iniDomainsKey = "domains"
	iniNotifyKey  = "notify"
)

// FileStatus tells how the domains file contributed to an aggregation.
type FileStatus int

const (
	FileAbsent FileStatus = iota
	FileLoaded
	FileMalformed
)

func (s FileStatus) String() string {
	switch s {
	case FileAbsent:
		return "absent"
	case FileLoaded:
		return "loaded"
	case FileMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// FileResult is the typed outcome of reading the domains file. Err is set only for
// FileMalformed; in that case none of the file's definitions are used.
type FileResult struct {
	Status FileStatus
	Path   string
	Err    error
}

// Aggregation is the set of certificate definitions for one pass, ordered by name.
type Aggregation struct {
	Definitions []Definition
	File        FileResult
	Rejected    []error // definitions dropped during validation, as *ConfigError
}

// Aggregator merges environment and file certificate definitions.
type Aggregator struct {
	logger *slog.Logger
}

func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		panic("NewAggregator: received nil logger")
	}
	return &Aggregator{logger: logger.With("component", "aggregator")}
}

// Aggregate builds the definitions for one pass. File sections override environment
// entries of the same name. A missing or malformed file never fails the aggregation.
func (a *Aggregator) Aggregate(environ []string, iniPath string) Aggregation {
	merged := EnvDefinitions(environ)

	fileDefs, res := LoadDomainsFile(iniPath)
	switch res.Status {
	case FileLoaded:
		for name, def := range fileDefs {
			if _, ok := merged[name]; ok {
				a.logger.Debug("Domains file overrides environment definition", "cert", name)
			}
			merged[name] = def
		}
	case FileMalformed:
		a.logger.Error("Failed to load domains file, using environment definitions only", "path", res.Path, "error", res.Err)
	case FileAbsent:
		a.logger.Debug("No domains file", "path", res.Path)
	}

	agg := Aggregation{File: res}
	for _, def := range merged {
		if err := validateDefinition(def); err != nil {
			cerr := &ConfigError{Source: def.Name, Err: err}
			a.logger.Warn("Skipping certificate definition", "cert", def.Name, "error", err)
			agg.Rejected = append(agg.Rejected, cerr)
			continue
		}
		agg.Definitions = append(agg.Definitions, def)
	}
	sort.Slice(agg.Definitions, func(i, j int) bool {
		return agg.Definitions[i].Name < agg.Definitions[j].Name
	})
	return agg
}

// EnvDefinitions collects cert_<name>=<domains> entries. Keys are matched
// case-insensitively and names are lower-cased. Env definitions carry no notify targets.
func EnvDefinitions(environ []string) map[string]Definition {
	defs := make(map[string]Definition)
	for key, value := range EnvMap(environ) {
		key = strings.ToLower(key)
		if !strings.HasPrefix(key, envCertPrefix) {
			continue
		}
		name := strings.TrimPrefix(key, envCertPrefix)
		defs[name] = Definition{
			Name:    name,
			Domains: NormalizeDomains(SplitList(value)),
		}
	}
	return defs
}

// LoadDomainsFile reads [name] sections with a required domains key and an optional
// notify key, both comma separated. A notify key in [DEFAULT] applies to sections
// without their own.
func LoadDomainsFile(path string) (map[string]Definition, FileResult) {
	res := FileResult{Status: FileAbsent, Path: path}
	if path == "" {
		return nil, res
	}
	exists, err := fileExists(path)
	if err != nil {
		res.Status, res.Err = FileMalformed, err
		return nil, res
	}
	if !exists {
		return nil, res
	}

	f, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:     true,
		IgnoreInlineComment: true,
	}, path)
	if err != nil {
		res.Status, res.Err = FileMalformed, fmt.Errorf("parse: %w", err)
		return nil, res
	}

	// Keys of the DEFAULT section apply to every section that does not set them.
	shared := f.Section(ini.DefaultSection)

	defs := make(map[string]Definition)
	for _, sec := range f.Sections() {
		name := strings.TrimSpace(sec.Name())
		if name == ini.DefaultSection {
			continue
		}
		if !sec.HasKey(iniDomainsKey) {
			res.Status, res.Err = FileMalformed, fmt.Errorf("section [%s]: missing %q", name, iniDomainsKey)
			return nil, res
		}
		def := Definition{
			Name:    name,
			Domains: NormalizeDomains(SplitList(sec.Key(iniDomainsKey).String())),
		}
		switch {
		case sec.HasKey(iniNotifyKey):
			def.Notify = normalizeTargets(SplitList(sec.Key(iniNotifyKey).String()))
		case shared.HasKey(iniNotifyKey):
			def.Notify = normalizeTargets(SplitList(shared.Key(iniNotifyKey).String()))
		}
		defs[name] = def
	}

	res.Status = FileLoaded
	return defs, res
}

func validateDefinition(def Definition) error {
	switch {
	case def.Name == "", def.Name == ".", def.Name == "..":
		return fmt.Errorf("invalid certificate name %q", def.Name)
	case strings.ContainsAny(def.Name, `/\`) || filepath.Base(def.Name) != def.Name:
		return fmt.Errorf("certificate name %q must not contain path separators", def.Name)
	case len(def.Domains) == 0:
		return ErrNoDomains
	}
	return nil
}
