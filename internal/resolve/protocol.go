package resolve

import (
	"fmt"
	"strings"

	"github.com/conneroisu/forge/internal/importmap"
)

// DefaultCDNBase serves npm and jsr packages as browser-loadable ES modules.
const DefaultCDNBase = "https://esm.sh"

// PackageRef is a parsed `npm:` or `jsr:` specifier.
type PackageRef struct {
	Protocol importmap.Protocol
	// Name includes the scope for scoped packages, e.g. "@std/path".
	Name    string
	Version string
	Subpath string
}

// ParsePackageRef splits an npm: or jsr: specifier into its parts.
func ParsePackageRef(spec string) (PackageRef, error) {
	protocol, ok := importmap.ParseProtocol(spec)
	if !ok || (protocol != importmap.ProtocolNPM && protocol != importmap.ProtocolJSR) {
		return PackageRef{}, fmt.Errorf("not a package specifier: %q", spec)
	}

	rest := strings.TrimPrefix(spec[len(protocol)+1:], "/")
	ref := PackageRef{Protocol: protocol}

	nameEnd := 0
	if strings.HasPrefix(rest, "@") {
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return PackageRef{}, fmt.Errorf("scoped package without name: %q", spec)
		}
		nameEnd = slash + 1
	}
	if protocol == importmap.ProtocolJSR && nameEnd == 0 {
		return PackageRef{}, fmt.Errorf("jsr package must be scoped: %q", spec)
	}

	segment := rest[nameEnd:]
	if slash := strings.IndexByte(segment, '/'); slash >= 0 {
		ref.Subpath = segment[slash+1:]
		segment = segment[:slash]
	}
	if at := strings.IndexByte(segment, '@'); at >= 0 {
		ref.Version = segment[at+1:]
		segment = segment[:at]
	}
	ref.Name = rest[:nameEnd] + segment

	if segment == "" {
		return PackageRef{}, fmt.Errorf("package name missing: %q", spec)
	}
	return ref, nil
}

// String renders the reference back to specifier form.
func (r PackageRef) String() string {
	var b strings.Builder
	b.WriteString(string(r.Protocol))
	b.WriteByte(':')
	b.WriteString(r.Name)
	if r.Version != "" {
		b.WriteByte('@')
		b.WriteString(r.Version)
	}
	if r.Subpath != "" {
		b.WriteByte('/')
		b.WriteString(r.Subpath)
	}
	return b.String()
}

// CDNURL translates the reference into a URL under base. JSR packages are
// served from the /jsr/ namespace; when a JSR subpath is requested the
// version loses its ^ or ~ range prefix.
func (r PackageRef) CDNURL(base string) string {
	if base == "" {
		base = DefaultCDNBase
	}
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(base, "/"))
	b.WriteByte('/')
	if r.Protocol == importmap.ProtocolJSR {
		b.WriteString("jsr/")
	}
	b.WriteString(r.Name)

	version := r.Version
	if r.Protocol == importmap.ProtocolJSR && r.Subpath != "" {
		version = strings.TrimLeft(version, "^~")
	}
	if version != "" {
		b.WriteByte('@')
		b.WriteString(version)
	}
	if r.Subpath != "" {
		b.WriteByte('/')
		b.WriteString(r.Subpath)
	}
	return b.String()
}

// joinSubpath appends sub to an external specifier.
func joinSubpath(spec, sub string) string {
	if sub == "" {
		return spec
	}
	return strings.TrimSuffix(spec, "/") + "/" + sub
}
