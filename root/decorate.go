// Package root resolves names and file-data-ids to content keys: the
// product-specific manifest half of CASC, sitting on top of the
// content-addressed storage keyindex/blte/span layers below it.
package root

import (
	"io"

	"github.com/lukegb/casc/internal/xcipher"
	"github.com/lukegb/casc/keyindex"
	"github.com/lukegb/casc/ngdp"
	"github.com/pkg/errors"
)

// ErrUnknownProgram is returned by Decorate when no root handler is
// known for the requested product.
var ErrUnknownProgram = errors.New("root: unknown program code")

// DecorateOptions configures which variant of a product's root handler
// Decorate builds, mirroring the locale/region/encryption parameters the
// WoW and Overwatch formats need at parse time.
type DecorateOptions struct {
	Program ngdp.ProgramCode

	// WoW6/WoW8
	LocaleMask      ngdp.Locale
	OverrideArchive bool
	AudioLocale     bool

	// Overwatch
	KeyRing           *xcipher.KeyRing
	CMFEncrypted      bool
	CMFKeyName        uint64
	CMFIV             [8]byte
	CompanionAPM      io.Reader

	// D3
	CoreToc io.Reader
}

// Decorate builds the Handler appropriate for opts.Program from the root
// file bytes in r, resolving CKeys against tbl. It replaces the
// teacher's single-purpose "fetch and parse the CascLib root file"
// routine with a dispatch over every supported product family.
func Decorate(r io.Reader, tbl *keyindex.Table, opts DecorateOptions) (Handler, error) {
	switch opts.Program {
	case ngdp.ProgramWoW, ngdp.ProgramWoWClassic:
		h, err := ParseWoW6(r, tbl, opts.LocaleMask, opts.OverrideArchive, opts.AudioLocale)
		if err != nil {
			return nil, errors.Wrap(err, "parsing WoW6 root")
		}
		return h, nil

	case ngdp.ProgramD3:
		h, err := ParseD3Root(r, tbl)
		if err != nil {
			return nil, errors.Wrap(err, "parsing D3 root")
		}
		if opts.CoreToc != nil {
			if err := h.LoadCoreToc(opts.CoreToc); err != nil {
				return nil, errors.Wrap(err, "loading CoreToc.dat")
			}
		}
		return h, nil

	case ngdp.ProgramOverwatch:
		h, err := ParseOverwatchCMF(r, tbl, opts.KeyRing, opts.CMFEncrypted, opts.CMFKeyName, opts.CMFIV)
		if err != nil {
			return nil, errors.Wrap(err, "parsing Overwatch CMF")
		}
		if opts.CompanionAPM != nil {
			pkgs, err := ParseOverwatchAPM(opts.CompanionAPM)
			if err != nil {
				return nil, errors.Wrap(err, "parsing Overwatch APM")
			}
			h.SetPackages(pkgs)
		}
		return h, nil

	case ngdp.ProgramHotS, ngdp.ProgramHotSTest, ngdp.ProgramSC2:
		h, err := ParseWoW8(r, tbl)
		if err != nil {
			return nil, errors.Wrap(err, "parsing WoW8-style root")
		}
		return h, nil

	default:
		return nil, errors.Wrapf(ErrUnknownProgram, "%q", opts.Program)
	}
}

// DecorateMNDX builds an MNDX handler directly, for storages that carry
// an MNDX trie instead of a per-product manifest (older agent-driven
// installs).
func DecorateMNDX(r io.Reader, tbl *keyindex.Table) (Handler, error) {
	h, err := ParseMNDX(r, tbl)
	if err != nil {
		return nil, errors.Wrap(err, "parsing MNDX root")
	}
	return h, nil
}

// DecorateTVFS builds a TVFS handler directly.
func DecorateTVFS(r io.Reader, tbl *keyindex.Table) (Handler, error) {
	h, err := ParseTVFS(r, tbl)
	if err != nil {
		return nil, errors.Wrap(err, "parsing TVFS root")
	}
	return h, nil
}

// DecorateInstall builds an Install handler directly.
func DecorateInstall(r io.Reader, tbl *keyindex.Table) (Handler, error) {
	h, err := ParseInstall(r, tbl)
	if err != nil {
		return nil, errors.Wrap(err, "parsing install manifest")
	}
	return h, nil
}
