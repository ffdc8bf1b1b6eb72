// Package corba provides a CORBA implementation in Go
package corba

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/corbaworks/goiiop/giop"
)

// IIOPVersion identifies the IIOP profile wire-format version.
type IIOPVersion struct {
	Major byte
	Minor byte
}

func (v IIOPVersion) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is >= major.minor.
func (v IIOPVersion) AtLeast(major, minor byte) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// TaggedProfile is one profile entry of an IOR, CORBA 3.4 spec 7.6.2.
type TaggedProfile struct {
	Tag     uint32
	Profile []byte
}

// TaggedComponent is one component entry of an IIOP profile body, CORBA 3.4
// spec 7.6.3. DecodedData caches the parsed form for the handful of
// component tags this runtime understands (CodeSets, SSL); it is nil for
// components carried opaquely.
type TaggedComponent struct {
	Tag         uint32
	Component   []byte
	DecodedData interface{}
}

// ProfileBody_1_1 is the decoded body of a TAG_INTERNET_IOP profile.
type ProfileBody_1_1 struct {
	Version    IIOPVersion
	Host       string
	Port       uint16
	ObjectKey  []byte
	Components []TaggedComponent
}

// Profile tags, CORBA 3.4 spec 13.6.3.
const (
	TAG_INTERNET_IOP        uint32 = 0
	TAG_MULTIPLE_COMPONENTS uint32 = 1
	TAG_SCCP_IOP            uint32 = 2
	TAG_UIPMC               uint32 = 3
)

// Component tags, CORBA 3.4 spec 7.6.3 / CSIv2.
const (
	TAG_ORB_TYPE                 uint32 = 0
	TAG_CODE_SETS                uint32 = 1
	TAG_POLICIES                 uint32 = 2
	TAG_ALTERNATE_IIOP_ADDRESS   uint32 = 3
	TAG_ASSOCIATION_OPTIONS      uint32 = 13
	TAG_SEC_NAME                 uint32 = 14
	TAG_SPKM_1_SEC_MECH          uint32 = 15
	TAG_SPKM_2_SEC_MECH          uint32 = 16
	TAG_KerberosV5_SEC_MECH      uint32 = 17
	TAG_CSI_ECMA_SECRET_SEC_MECH uint32 = 18
	TAG_CSI_ECMA_HYBRID_SEC_MECH uint32 = 19
	TAG_SSL_SEC_TRANS            uint32 = 20
	TAG_CSI_ECMA_PUBLIC_SEC_MECH uint32 = 21
	TAG_GENERIC_SEC_MECH         uint32 = 22
	TAG_JAVA_CODEBASE            uint32 = 25
	TAG_TRANSACTION_POLICY       uint32 = 26
	TAG_MESSAGE_ROUTERS          uint32 = 30
	TAG_OTS_POLICY               uint32 = 31
	TAG_INV_POLICY               uint32 = 32
	TAG_CSI_SEC_MECH_LIST        uint32 = 33
	TAG_NULL_TAG                 uint32 = 34
	TAG_SECIOP_SEC_TRANS         uint32 = 35
	TAG_TLS_SEC_TRANS            uint32 = 36
)

// IOR is a CORBA Interoperable Object Reference, CORBA 3.4 spec 7.6.2. A nil
// *IOR represents a nil object reference (an IOR with an empty type id and
// no profiles).
type IOR struct {
	TypeID   string
	Profiles []TaggedProfile
}

// NewIOR creates a new, profile-less IOR for the given repository type id.
func NewIOR(typeID string) *IOR {
	return &IOR{TypeID: typeID}
}

// AddIIOPProfile appends a standard IIOP profile to the IOR.
func (ior *IOR) AddIIOPProfile(version IIOPVersion, host string, port uint16, objectKey []byte, components ...TaggedComponent) {
	ior.Profiles = append(ior.Profiles, createIIOPProfile(version, host, port, objectKey, components))
}

// createIIOPProfile CDR-encodes a ProfileBody_1_1 into an encapsulation and
// wraps it as a TAG_INTERNET_IOP TaggedProfile.
func createIIOPProfile(version IIOPVersion, host string, port uint16, objectKey []byte, components []TaggedComponent) TaggedProfile {
	enc := giop.NewEncapsulationEncoder(binary.BigEndian)
	enc.WriteOctet(version.Major)
	enc.WriteOctet(version.Minor)
	enc.WriteString(host)
	enc.WriteUShort(port)
	enc.WriteOctetSequence(objectKey)
	if version.AtLeast(1, 1) {
		enc.WriteULong(uint32(len(components)))
		for _, c := range components {
			enc.WriteULong(c.Tag)
			enc.WriteOctetSequence(c.Component)
		}
	}
	return TaggedProfile{Tag: TAG_INTERNET_IOP, Profile: enc.EncapsulationBytes()}
}

// Encode CDR-encodes the IOR itself: type_id string followed by a sequence
// of TaggedProfile.
func (ior *IOR) Encode(e *giop.Encoder) {
	e.WriteString(ior.TypeID)
	e.WriteULong(uint32(len(ior.Profiles)))
	for _, p := range ior.Profiles {
		e.WriteULong(p.Tag)
		e.WriteOctetSequence(p.Profile)
	}
}

// EncodeIOR writes ior onto e, CORBA 3.4 spec 7.6.2. A nil ior encodes as a
// nil object reference (empty type id, no profiles).
func EncodeIOR(e *giop.Encoder, ior *IOR) error {
	if ior == nil {
		ior = &IOR{}
	}
	ior.Encode(e)
	return nil
}

// DecodeIOR reads an IOR from d, the inverse of EncodeIOR. A nil-object-
// reference encoding (empty type id, zero profiles) decodes to a nil *IOR.
func DecodeIOR(d *giop.Decoder) (*IOR, error) {
	typeID, err := d.ReadString()
	if err != nil {
		return nil, fmt.Errorf("corba: decoding IOR type id: %w", err)
	}
	count, err := d.ReadULong()
	if err != nil {
		return nil, fmt.Errorf("corba: decoding IOR profile count: %w", err)
	}
	if typeID == "" && count == 0 {
		return nil, nil
	}
	ior := &IOR{TypeID: typeID, Profiles: make([]TaggedProfile, count)}
	for i := range ior.Profiles {
		tag, err := d.ReadULong()
		if err != nil {
			return nil, fmt.Errorf("corba: decoding profile #%d tag: %w", i, err)
		}
		data, err := d.ReadOctetSequence()
		if err != nil {
			return nil, fmt.Errorf("corba: decoding profile #%d data: %w", i, err)
		}
		ior.Profiles[i] = TaggedProfile{Tag: tag, Profile: data}
	}
	return ior, nil
}

// EncodeBytes returns the standalone CDR byte-stream encoding of the IOR,
// for use outside a GIOP message (e.g. the stringified IOR: format).
func (ior *IOR) EncodeBytes() []byte {
	e := giop.NewEncoder(binary.BigEndian)
	ior.Encode(e)
	return e.Bytes()
}

// DecodeIIOPProfile parses the encapsulated body of a TAG_INTERNET_IOP
// profile.
func DecodeIIOPProfile(profile []byte) (*ProfileBody_1_1, error) {
	if len(profile) < 1 {
		return nil, fmt.Errorf("corba: IIOP profile data too short")
	}
	order := binary.ByteOrder(binary.BigEndian)
	if profile[0] == 1 {
		order = binary.LittleEndian
	}
	d := giop.NewDecoder(profile[1:], order)

	major, err := d.ReadOctet()
	if err != nil {
		return nil, err
	}
	minor, err := d.ReadOctet()
	if err != nil {
		return nil, err
	}
	version := IIOPVersion{major, minor}

	host, err := d.ReadString()
	if err != nil {
		return nil, fmt.Errorf("corba: decoding IIOP profile host: %w", err)
	}
	port, err := d.ReadUShort()
	if err != nil {
		return nil, fmt.Errorf("corba: decoding IIOP profile port: %w", err)
	}
	objectKey, err := d.ReadOctetSequence()
	if err != nil {
		return nil, fmt.Errorf("corba: decoding IIOP profile object key: %w", err)
	}

	result := &ProfileBody_1_1{Version: version, Host: host, Port: port, ObjectKey: objectKey}

	if version.AtLeast(1, 1) && d.Remaining() >= 4 {
		compCount, err := d.ReadULong()
		if err != nil {
			return nil, err
		}
		result.Components = make([]TaggedComponent, compCount)
		for i := range result.Components {
			tag, err := d.ReadULong()
			if err != nil {
				return nil, fmt.Errorf("corba: decoding component #%d tag: %w", i, err)
			}
			data, err := d.ReadOctetSequence()
			if err != nil {
				return nil, fmt.Errorf("corba: decoding component #%d data: %w", i, err)
			}
			comp := TaggedComponent{Tag: tag, Component: data}
			if decoded, err := DecodeComponent(tag, data); err == nil {
				comp.DecodedData = decoded
			}
			result.Components[i] = comp
		}
	}

	return result, nil
}

// ParseIOR parses a stringified "IOR:" hex reference, CORBA 3.4 spec 13.6.10.
// Two wire forms exist: the pre-3.0 non-encapsulated form is always
// big-endian with no byte-order flag; CORBA 3.0+ wraps the IOR in an
// encapsulation, prefixed with a byte-order octet (spec 9.3.4, 13.6.10).
// ToString/EncodeBytes only ever emit the non-encapsulated form, but a
// reference minted by another ORB may arrive encapsulated, so both are
// detected here on the read side.
func ParseIOR(iorString string) (*IOR, error) {
	if !strings.HasPrefix(strings.ToUpper(iorString), "IOR:") {
		return nil, fmt.Errorf("corba: invalid IOR string, must start with 'IOR:'")
	}
	data, err := hex.DecodeString(iorString[4:])
	if err != nil {
		return nil, fmt.Errorf("corba: invalid IOR hex encoding: %w", err)
	}
	d, err := iorDecoderForBytes(data)
	if err != nil {
		return nil, err
	}
	return DecodeIOR(d)
}

// iorDecoderForBytes returns a Decoder positioned at the start of an IOR's
// type-id/profile-list encoding, detecting whether data is an encapsulated
// (CORBA 3.0+) or non-encapsulated (pre-3.0) IOR.
//
// A non-encapsulated IOR starts directly with the type id's ULong length
// prefix, always big-endian. An encapsulated IOR instead starts with a
// byte-order octet (1 for little-endian, 0 for big-endian) followed by
// three padding bytes, so its type-id length starts at byte 4. Byte 0 == 1
// means little-endian encapsulated; bytes 0-3 all zero mean big-endian
// encapsulated, since a non-encapsulated IOR's type-id length counts the
// string's trailing NUL and so is never zero. Anything else is read as the
// non-encapsulated form.
func iorDecoderForBytes(data []byte) (*giop.Decoder, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("corba: empty IOR encoding")
	}
	switch {
	case data[0] == 1 && len(data) >= 4:
		return giop.NewDecoder(data[4:], binary.LittleEndian), nil
	case len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0:
		return giop.NewDecoder(data[4:], binary.BigEndian), nil
	default:
		return giop.NewDecoder(data, binary.BigEndian), nil
	}
}

// ToString renders the IOR as a stringified "IOR:" hex reference.
func (ior *IOR) ToString() string {
	return "IOR:" + strings.ToUpper(hex.EncodeToString(ior.EncodeBytes()))
}

// GetIIOPProfiles returns every decoded TAG_INTERNET_IOP profile in the IOR.
func (ior *IOR) GetIIOPProfiles() ([]*ProfileBody_1_1, error) {
	result := make([]*ProfileBody_1_1, 0, len(ior.Profiles))
	for _, profile := range ior.Profiles {
		if profile.Tag == TAG_INTERNET_IOP {
			iiopProfile, err := DecodeIIOPProfile(profile.Profile)
			if err != nil {
				return nil, err
			}
			result = append(result, iiopProfile)
		}
	}
	return result, nil
}

// GetPrimaryIIOPProfile returns the first TAG_INTERNET_IOP profile in the IOR.
func (ior *IOR) GetPrimaryIIOPProfile() (*ProfileBody_1_1, error) {
	for _, profile := range ior.Profiles {
		if profile.Tag == TAG_INTERNET_IOP {
			return DecodeIIOPProfile(profile.Profile)
		}
	}
	return nil, fmt.Errorf("corba: no IIOP profile found in IOR")
}

// GetComponent retrieves a specific component from an IIOP profile.
func (profile *ProfileBody_1_1) GetComponent(tag uint32) (*TaggedComponent, error) {
	for i, comp := range profile.Components {
		if comp.Tag == tag {
			return &profile.Components[i], nil
		}
	}
	return nil, fmt.Errorf("corba: component with tag %d not found", tag)
}

// GetComponentData retrieves and decodes a specific component from an IIOP profile.
func (profile *ProfileBody_1_1) GetComponentData(tag uint32) (interface{}, error) {
	comp, err := profile.GetComponent(tag)
	if err != nil {
		return nil, err
	}
	if comp.DecodedData != nil {
		return comp.DecodedData, nil
	}
	return DecodeComponent(tag, comp.Component)
}

// AddComponent adds a raw component to an IIOP profile.
func (profile *ProfileBody_1_1) AddComponent(component TaggedComponent) {
	profile.Components = append(profile.Components, component)
}

// AddComponentData adds a component built from structured data.
func (profile *ProfileBody_1_1) AddComponentData(tag uint32, data interface{}) {
	profile.AddComponent(CreateTaggedComponent(tag, data))
}

// GetCodeSets retrieves the CodeSets component, if present.
func (profile *ProfileBody_1_1) GetCodeSets() (*CodeSets, error) {
	data, err := profile.GetComponentData(TAG_CODE_SETS)
	if err != nil {
		return nil, err
	}
	if codeSets, ok := data.(*CodeSets); ok {
		return codeSets, nil
	}
	return nil, fmt.Errorf("corba: invalid CodeSets component data")
}

// GetSSLData retrieves the SSL component, if present.
func (profile *ProfileBody_1_1) GetSSLData() (*SSLData, error) {
	data, err := profile.GetComponentData(TAG_SSL_SEC_TRANS)
	if err != nil {
		return nil, err
	}
	if ssl, ok := data.(*SSLData); ok {
		return ssl, nil
	}
	return nil, fmt.Errorf("corba: invalid SSL component data")
}

// FormatRepositoryID formats an interface name as a CORBA repository id:
// "IDL:<interface_name>:<version>".
func FormatRepositoryID(interfaceName string, version string) string {
	if version == "" {
		version = "1.0"
	}
	if strings.HasPrefix(interfaceName, "IDL:") && strings.Contains(interfaceName, ":") {
		return interfaceName
	}
	name := strings.TrimPrefix(interfaceName, "IDL:")
	name = strings.ReplaceAll(name, ".", "/")
	return fmt.Sprintf("IDL:%s:%s", name, version)
}

func ObjectKeyFromString(key string) []byte { return []byte(key) }
func ObjectKeyToString(key []byte) string   { return string(key) }

// GenerateObjectKey generates a globally unique object key with the given
// prefix, suffixed with a random UUID so keys stay unique across process
// restarts and across POAs on different hosts.
func GenerateObjectKey(prefix string) []byte {
	if prefix == "" {
		prefix = "OBJ_"
	}
	return []byte(fmt.Sprintf("%s%s", prefix, uuid.NewString()))
}

// GenerateSequentialObjectKey generates a process-unique object key from an
// in-memory counter. Unlike GenerateObjectKey, keys are short and ordered,
// which callers that need reproducible or human-comparable keys (logging,
// test fixtures) may prefer over a UUID.
func GenerateSequentialObjectKey(prefix string) []byte {
	if prefix == "" {
		prefix = "OBJ_"
	}
	return []byte(fmt.Sprintf("%s%d", prefix, GetNextObjectID()))
}

var (
	nextObjectID  uint64 = 1
	objectIDMutex sync.Mutex
)

// GetNextObjectID returns the next process-unique object id counter value.
func GetNextObjectID() uint64 {
	objectIDMutex.Lock()
	defer objectIDMutex.Unlock()
	id := nextObjectID
	nextObjectID++
	return id
}

// CreateTaggedComponent builds a TaggedComponent from structured data,
// encoding it with the component's own byte order when the tag requires one.
func CreateTaggedComponent(tag uint32, data interface{}) TaggedComponent {
	component := TaggedComponent{Tag: tag, DecodedData: data}
	switch tag {
	case TAG_CODE_SETS:
		if codeSets, ok := data.(*CodeSets); ok {
			component.Component = EncodeCodeSetsComponent(codeSets, binary.BigEndian)
		}
	case TAG_SSL_SEC_TRANS:
		if ssl, ok := data.(*SSLData); ok {
			component.Component = EncodeSSLComponent(ssl, binary.BigEndian)
		}
	default:
		if rawData, ok := data.([]byte); ok {
			component.Component = rawData
		}
	}
	return component
}

// corbaloc default ports, CORBA 3.4 spec 13.6.10.
const (
	defaultCorbalocIIOPPort = 2809
	defaultCorbalocSSLPort  = 2810
)

// corbalocAddress is one "host:port" (or "host:port" within an SSL/IIOP
// address list) parsed from a corbaloc: URL.
type corbalocAddress struct {
	Protocol string // "iiop" or "ssliop"
	Host     string
	Port     uint16
	Version  IIOPVersion
}

// ParseCorbaloc parses a corbaloc: URL, CORBA 3.4 spec 13.6.10:
//
//	corbaloc:[iiop|ssliop][:<major>.<minor>]@<host>[:<port>][,<addr>...]/<key>
//	corbaloc::<host>[:<port>]/<key>   (protocol defaults to iiop)
//	corbaloc:rir:/<name>              (resolve-initial-references, unsupported here)
//
// The object key after the final '/' is percent-decoded per RFC 2396.
func ParseCorbaloc(url string) (*IOR, error) {
	const prefix = "corbaloc:"
	if !strings.HasPrefix(strings.ToLower(url), prefix) {
		return nil, fmt.Errorf("corba: not a corbaloc URL: %s", url)
	}
	rest := url[len(prefix):]

	slash := strings.Index(rest, "/")
	if slash < 0 {
		return nil, fmt.Errorf("corba: corbaloc URL missing object key: %s", url)
	}
	addrList, keyPart := rest[:slash], rest[slash+1:]

	objectKey, err := percentDecode(keyPart)
	if err != nil {
		return nil, fmt.Errorf("corba: corbaloc object key: %w", err)
	}

	if strings.HasPrefix(strings.ToLower(addrList), "rir:") {
		return nil, fmt.Errorf("corba: corbaloc rir: addressing is not supported by this runtime")
	}

	var addrs []corbalocAddress
	for _, spec := range strings.Split(addrList, ",") {
		addr, err := parseCorbalocOneAddress(spec)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("corba: corbaloc URL has no addresses: %s", url)
	}

	ior := NewIOR("")
	for _, a := range addrs {
		ior.AddIIOPProfile(a.Version, a.Host, a.Port, objectKey)
	}
	return ior, nil
}

func parseCorbalocOneAddress(spec string) (corbalocAddress, error) {
	addr := corbalocAddress{Protocol: "iiop", Version: IIOPVersion{1, 2}, Port: defaultCorbalocIIOPPort}

	if spec == "" {
		return addr, fmt.Errorf("corba: empty corbaloc address")
	}
	// Optional leading ':' (protocol defaults to iiop) or "protocol@..." / "protocol:version@..."
	if spec[0] == ':' {
		spec = spec[1:]
	} else if at := strings.Index(spec, "@"); at >= 0 {
		proto := spec[:at]
		spec = spec[at+1:]
		parts := strings.SplitN(proto, "@", 2)
		proto = parts[0]
		if colon := strings.Index(proto, ":"); colon >= 0 {
			addr.Protocol = strings.ToLower(proto[:colon])
			ver := proto[colon+1:]
			maj, min, err := parseVersion(ver)
			if err != nil {
				return addr, err
			}
			addr.Version = IIOPVersion{maj, min}
		} else if proto != "" {
			addr.Protocol = strings.ToLower(proto)
		}
		if addr.Protocol == "ssliop" {
			addr.Port = defaultCorbalocSSLPort
		}
	}

	host, port, err := splitHostPort(spec)
	if err != nil {
		return addr, fmt.Errorf("corba: corbaloc address %q: %w", spec, err)
	}
	addr.Host = host
	if port != "" {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return addr, fmt.Errorf("corba: corbaloc port %q: %w", port, err)
		}
		addr.Port = uint16(p)
	}
	return addr, nil
}

// splitHostPort splits a corbaloc "host[:port]" component, tolerating
// bracketed IPv6 literals ("[::1]:2809").
func splitHostPort(s string) (host, port string, err error) {
	if strings.HasPrefix(s, "[") {
		end := strings.Index(s, "]")
		if end < 0 {
			return "", "", fmt.Errorf("unterminated IPv6 literal")
		}
		host = s[1:end]
		rest := s[end+1:]
		if strings.HasPrefix(rest, ":") {
			port = rest[1:]
		} else if rest != "" {
			return "", "", fmt.Errorf("unexpected trailer after IPv6 literal: %q", rest)
		}
		return host, port, nil
	}
	if idx := strings.LastIndex(s, ":"); idx >= 0 && !strings.Contains(s[idx+1:], ":") {
		return s[:idx], s[idx+1:], nil
	}
	return s, "", nil
}

func parseVersion(s string) (byte, byte, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("corba: invalid IIOP version %q", s)
	}
	maj, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("corba: invalid IIOP version %q: %w", s, err)
	}
	min, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return 0, 0, fmt.Errorf("corba: invalid IIOP version %q: %w", s, err)
	}
	return byte(maj), byte(min), nil
}

func percentDecode(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' {
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated percent-escape in %q", s)
			}
			var b byte
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &b); err != nil {
				return nil, fmt.Errorf("invalid percent-escape %q: %w", s[i:i+3], err)
			}
			out = append(out, b)
			i += 2
		} else {
			out = append(out, s[i])
		}
	}
	return out, nil
}

// ToCorbaloc renders the IOR's primary IIOP profile as a corbaloc: URL.
// Percent-escapes any object-key byte outside the unreserved/mark set.
func (ior *IOR) ToCorbaloc() (string, error) {
	profile, err := ior.GetPrimaryIIOPProfile()
	if err != nil {
		return "", err
	}
	host := profile.Host
	if ip := net.ParseIP(host); ip != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("corbaloc:iiop:%d.%d@%s:%d/%s",
		profile.Version.Major, profile.Version.Minor, host, profile.Port,
		percentEncodeObjectKey(profile.ObjectKey)), nil
}

func percentEncodeObjectKey(key []byte) string {
	var sb strings.Builder
	for _, b := range key {
		if (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') ||
			strings.ContainsRune("-_.!~*'()", rune(b)) {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}
