package gatherer

import (
	"regexp"

	"github.com/pkg/errors"

	"github.com/cesar-douady/open-lmake-sub004/pkg/depmodel"
)

// accessPatternRule is a single AccessPattern registration: "(regex, date,
// flags) to be applied later to all matching files during reorder" (spec
// §4.3.2). It is applied once, at the start of analyze, to every file name
// known at that point; it does not retroactively create new AccessInfo
// entries for files never otherwise accessed.
type accessPatternRule struct {
	pattern     *regexp.Regexp
	date        int64
	dflags      depmodel.Dflag
	extraDflags depmodel.ExtraDflag
	tflags      depmodel.Tflag
	extraTflags depmodel.ExtraTflag
}

// parseAccessPattern decodes the message payload of a ProcAccessPattern
// event. The wire encoding is deliberately simple: "regex\tflags" where
// flags is a decimal-encoded packed word with the same bit layout as the
// wire Digest.flags field (Dflags low 16 bits, Tflags high 16 bits); extra
// flags are not carried over the wire (mirroring the tracer/gatherer flag
// split documented in pkg/autodep/event/marshal.go) and are always zero for
// pattern-applied flags.
func parseAccessPattern(message string, date int64) (accessPatternRule, error) {
	sep := indexByte(message, '\t')
	if sep < 0 {
		return accessPatternRule{}, errors.New("malformed access-pattern message: missing separator")
	}
	patternText, flagsText := message[:sep], message[sep+1:]

	re, err := regexp.Compile(patternText)
	if err != nil {
		return accessPatternRule{}, errors.Wrap(err, "invalid access-pattern regex")
	}

	flags, err := parseUint32(flagsText)
	if err != nil {
		return accessPatternRule{}, errors.Wrap(err, "invalid access-pattern flags")
	}

	return accessPatternRule{
		pattern: re,
		date:    date,
		dflags:  depmodel.Dflag(flags & 0xffff),
		tflags:  depmodel.Tflag(flags >> 16),
	}, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func parseUint32(s string) (uint32, error) {
	var v uint32
	if s == "" {
		return 0, errors.New("empty integer")
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, errors.Errorf("invalid digit %q", c)
		}
		v = v*10 + uint32(c-'0')
	}
	return v, nil
}

// apply folds the rule's flags into every AccessInfo record whose file name
// matches the pattern.
func (rule accessPatternRule) apply(infos map[depmodel.Path]*AccessInfo) {
	for path, info := range infos {
		if rule.pattern.MatchString(string(path)) {
			info.dflags |= rule.dflags
			info.tflags |= rule.tflags
		}
	}
}
