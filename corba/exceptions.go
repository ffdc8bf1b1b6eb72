// Package corba provides a CORBA implementation in Go
package corba

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/corbaworks/goiiop/giop"
)

// CompletionStatus indicates the status of an operation that raised an exception
type CompletionStatus int32

const (
	// CompletionStatusYes indicates the operation was completed
	CompletionStatusYes CompletionStatus = 0
	// CompletionStatusNo indicates the operation was not completed
	CompletionStatusNo CompletionStatus = 1
	// CompletionStatusMaybe indicates the operation completion status is unknown
	CompletionStatusMaybe CompletionStatus = 2
)

// Exception is the base interface for all CORBA exceptions
type Exception interface {
	error
	ID() string                  // Repository ID of this exception
	Name() string                // Name of this exception
	Minor() uint32               // Minor code for the exception
	Completed() CompletionStatus // Completion status of the operation
}

// SystemException represents a CORBA system exception
type SystemException struct {
	exceptionName  string
	minorCode      uint32
	completedValue CompletionStatus
}

// UserException represents a CORBA user-defined exception
type UserException struct {
	exceptionName string
	exceptionID   string
	tc            TypeCode
	members       map[string]Value
	order         []string
}

// NewCORBASystemException creates a new CORBA system exception
func NewCORBASystemException(name string, minor uint32, completed CompletionStatus) *SystemException {
	return &SystemException{
		exceptionName:  name,
		minorCode:      minor,
		completedValue: completed,
	}
}

// NewCORBAUserException creates a new CORBA user-defined exception described
// by tc, a TC_EXCEPT TypeCode.
func NewCORBAUserException(tc TypeCode) *UserException {
	return &UserException{
		exceptionName: tc.Name(),
		exceptionID:   tc.Id(),
		tc:            tc,
		members:       make(map[string]Value),
	}
}

// Error implements the error interface for SystemException
func (e *SystemException) Error() string {
	return fmt.Sprintf("CORBA System Exception: %s (minor code: %d, completion status: %v)",
		e.exceptionName, e.minorCode, e.completedValue)
}

// ID returns the repository ID of this system exception
func (e *SystemException) ID() string {
	return fmt.Sprintf("IDL:omg.org/CORBA/%s:1.0", e.exceptionName)
}

// Name returns the name of this system exception
func (e *SystemException) Name() string {
	return e.exceptionName
}

// Minor returns the minor code of this system exception
func (e *SystemException) Minor() uint32 {
	return e.minorCode
}

// Completed returns the completion status of the operation that raised this exception
func (e *SystemException) Completed() CompletionStatus {
	return e.completedValue
}

// Error implements the error interface for UserException
func (e *UserException) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CORBA User Exception: %s (ID: %s)", e.exceptionName, e.exceptionID))

	if len(e.members) > 0 {
		sb.WriteString(", members: [")
		for i, name := range e.order {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", name, e.members[name]))
		}
		sb.WriteString("]")
	}

	return sb.String()
}

// ID returns the repository ID of this user exception
func (e *UserException) ID() string {
	return e.exceptionID
}

// Name returns the name of this user exception
func (e *UserException) Name() string {
	return e.exceptionName
}

// Minor returns the minor code of this user exception (always 0)
func (e *UserException) Minor() uint32 {
	return 0
}

// Completed returns the completion status of the operation that raised this exception (always No)
func (e *UserException) Completed() CompletionStatus {
	return CompletionStatusNo
}

// TypeCode returns the TC_EXCEPT TypeCode describing this exception's members.
func (e *UserException) TypeCode() TypeCode { return e.tc }

// SetMember sets a member value for this user exception
func (e *UserException) SetMember(name string, value Value) {
	if _, exists := e.members[name]; !exists {
		e.order = append(e.order, name)
	}
	e.members[name] = value
}

// GetMember retrieves a member value from this user exception
func (e *UserException) GetMember(name string) (Value, bool) {
	value, exists := e.members[name]
	return value, exists
}

// Members returns the member values of this user exception in declaration order.
func (e *UserException) Members() []Value {
	if e.tc == nil {
		out := make([]Value, len(e.order))
		for i, name := range e.order {
			out[i] = e.members[name]
		}
		return out
	}
	out := make([]Value, e.tc.MemberCount())
	for i := 0; i < e.tc.MemberCount(); i++ {
		name, _ := e.tc.MemberName(i)
		out[i] = e.members[name]
	}
	return out
}

// Standard CORBA system exceptions as defined in the CORBA specification
var (
	UNKNOWN = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("UNKNOWN", minor, completed)
	}
	BAD_PARAM = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_PARAM", minor, completed)
	}
	NO_MEMORY = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("NO_MEMORY", minor, completed)
	}
	IMP_LIMIT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("IMP_LIMIT", minor, completed)
	}
	COMM_FAILURE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("COMM_FAILURE", minor, completed)
	}
	INV_OBJREF = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INV_OBJREF", minor, completed)
	}
	NO_PERMISSION = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("NO_PERMISSION", minor, completed)
	}
	INTERNAL = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INTERNAL", minor, completed)
	}
	MARSHAL = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("MARSHAL", minor, completed)
	}
	INITIALIZE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INITIALIZE", minor, completed)
	}
	NO_IMPLEMENT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("NO_IMPLEMENT", minor, completed)
	}
	BAD_TYPECODE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_TYPECODE", minor, completed)
	}
	BAD_OPERATION = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_OPERATION", minor, completed)
	}
	NO_RESOURCES = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("NO_RESOURCES", minor, completed)
	}
	NO_RESPONSE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("NO_RESPONSE", minor, completed)
	}
	PERSIST_STORE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("PERSIST_STORE", minor, completed)
	}
	BAD_INV_ORDER = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_INV_ORDER", minor, completed)
	}
	TRANSIENT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TRANSIENT", minor, completed)
	}
	FREE_MEM = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("FREE_MEM", minor, completed)
	}
	INV_IDENT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INV_IDENT", minor, completed)
	}
	INV_FLAG = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INV_FLAG", minor, completed)
	}
	INTF_REPOS = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INTF_REPOS", minor, completed)
	}
	BAD_CONTEXT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_CONTEXT", minor, completed)
	}
	OBJ_ADAPTER = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("OBJ_ADAPTER", minor, completed)
	}
	DATA_CONVERSION = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("DATA_CONVERSION", minor, completed)
	}
	OBJECT_NOT_EXIST = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("OBJECT_NOT_EXIST", minor, completed)
	}
	TRANSACTION_REQUIRED = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TRANSACTION_REQUIRED", minor, completed)
	}
	TRANSACTION_ROLLEDBACK = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TRANSACTION_ROLLEDBACK", minor, completed)
	}
	INVALID_TRANSACTION = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INVALID_TRANSACTION", minor, completed)
	}
	INV_POLICY = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("INV_POLICY", minor, completed)
	}
	CODESET_INCOMPATIBLE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("CODESET_INCOMPATIBLE", minor, completed)
	}
	REBIND = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("REBIND", minor, completed)
	}
	TIMEOUT = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TIMEOUT", minor, completed)
	}
	TRANSACTION_UNAVAILABLE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TRANSACTION_UNAVAILABLE", minor, completed)
	}
	TRANSACTION_MODE = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("TRANSACTION_MODE", minor, completed)
	}
	BAD_QOS = func(minor uint32, completed CompletionStatus) *SystemException {
		return NewCORBASystemException("BAD_QOS", minor, completed)
	}
)

// systemExceptionTypeCodes caches the generated TypeCode for each system
// exception name.
var systemExceptionTypeCodes = make(map[string]TypeCode)

// CreateSystemExceptionTypeCode returns the TC_EXCEPT TypeCode for a named
// system exception: the standard { unsigned long minor; completion_status
// completed; } member layout shared by every CORBA system exception.
func CreateSystemExceptionTypeCode(name string) TypeCode {
	id := fmt.Sprintf("IDL:omg.org/CORBA/%s:1.0", name)
	if tc, ok := systemExceptionTypeCodes[id]; ok {
		return tc
	}
	tc := NewExceptionTC(id, name, []Member{
		{Name: "minor", Type: BasicTypeCode(TC_ULONG)},
		{Name: "completed", Type: BasicTypeCode(TC_LONG)},
	})
	systemExceptionTypeCodes[id] = tc
	RegisterTypeCode(tc)
	return tc
}

// IsSystemException checks if an error is a CORBA system exception
func IsSystemException(err error) bool {
	_, ok := err.(*SystemException)
	return ok
}

// IsUserException checks if an error is a CORBA user exception
func IsUserException(err error) bool {
	_, ok := err.(*UserException)
	return ok
}

// IsException checks if an error is a CORBA exception (system or user)
func IsException(err error) bool {
	return IsSystemException(err) || IsUserException(err)
}

// MarshalException serializes an exception as the CDR encoding of its
// repository id followed by its minor/completed (system exceptions) or
// declared members (user exceptions), per CORBA 3.4 spec 15.3.4.10.
func MarshalException(ex Exception) ([]byte, error) {
	e := giop.NewEncoder(binary.BigEndian)
	e.WriteString(ex.ID())

	if sysEx, ok := ex.(*SystemException); ok {
		e.WriteULong(sysEx.Minor())
		e.WriteLong(int32(sysEx.Completed()))
		return e.Bytes(), nil
	}
	userEx, ok := ex.(*UserException)
	if !ok {
		return nil, fmt.Errorf("corba: unsupported exception type: %T", ex)
	}
	if userEx.tc == nil {
		return e.Bytes(), nil
	}
	for i := 0; i < userEx.tc.MemberCount(); i++ {
		name, _ := userEx.tc.MemberName(i)
		mt, err := userEx.tc.MemberType(i)
		if err != nil {
			return nil, err
		}
		if err := EncodeValue(e, userEx.members[name], mt); err != nil {
			return nil, fmt.Errorf("corba: marshalling exception member %q: %w", name, err)
		}
	}
	return e.Bytes(), nil
}

// UnmarshalException deserializes an exception previously produced by
// MarshalException. System exceptions (repository ids under
// IDL:omg.org/CORBA/) decode their fixed minor/completed pair directly;
// user exceptions decode their members against tc, which the caller
// resolves (e.g. via an Interface Repository lookup keyed by the decoded
// repository id).
func UnmarshalException(data []byte, tc TypeCode) (Exception, error) {
	d := giop.NewDecoder(data, binary.BigEndian)
	id, err := d.ReadString()
	if err != nil {
		return nil, fmt.Errorf("corba: unmarshalling exception id: %w", err)
	}

	if strings.HasPrefix(id, "IDL:omg.org/CORBA/") && strings.HasSuffix(id, ":1.0") {
		name := strings.TrimSuffix(strings.TrimPrefix(id, "IDL:omg.org/CORBA/"), ":1.0")
		minor, err := d.ReadULong()
		if err != nil {
			return nil, err
		}
		completed, err := d.ReadLong()
		if err != nil {
			return nil, err
		}
		return NewCORBASystemException(name, minor, CompletionStatus(completed)), nil
	}

	if tc == nil {
		if registered, ok := LookupTypeCode(id); ok {
			tc = registered
		} else {
			return nil, fmt.Errorf("corba: no TypeCode available to decode user exception %s", id)
		}
	}
	ex := NewCORBAUserException(tc)
	for i := 0; i < tc.MemberCount(); i++ {
		name, _ := tc.MemberName(i)
		mt, err := tc.MemberType(i)
		if err != nil {
			return nil, err
		}
		v, err := DecodeValue(d, mt)
		if err != nil {
			return nil, fmt.Errorf("corba: unmarshalling exception member %q: %w", name, err)
		}
		ex.SetMember(name, v)
	}
	return ex, nil
}

// ExceptionRegistry maintains a registry of user-defined exception
// TypeCodes, keyed by repository id.
type ExceptionRegistry struct {
	exceptions map[string]TypeCode
}

// Global exception registry
var globalExceptionRegistry = NewExceptionRegistry()

// NewExceptionRegistry creates a new exception registry
func NewExceptionRegistry() *ExceptionRegistry {
	return &ExceptionRegistry{exceptions: make(map[string]TypeCode)}
}

// Register registers a user-defined exception TypeCode with the registry
func (r *ExceptionRegistry) Register(id string, tc TypeCode) {
	r.exceptions[id] = tc
}

// Lookup looks up a user-defined exception TypeCode in the registry
func (r *ExceptionRegistry) Lookup(id string) (TypeCode, bool) {
	t, ok := r.exceptions[id]
	return t, ok
}

// RegisterException registers a user-defined exception TypeCode with the
// global registry, making it resolvable by UnmarshalException.
func RegisterException(tc TypeCode) {
	globalExceptionRegistry.Register(tc.Id(), tc)
	RegisterTypeCode(tc)
}

// CreateExceptionFromTypeCode creates a new exception instance from its TypeCode
func CreateExceptionFromTypeCode(tc TypeCode) (Exception, error) {
	if tc == nil {
		return nil, fmt.Errorf("cannot create exception from nil TypeCode")
	}

	if strings.HasPrefix(tc.Id(), "IDL:omg.org/CORBA/") {
		name := strings.TrimPrefix(tc.Id(), "IDL:omg.org/CORBA/")
		name = strings.TrimSuffix(name, ":1.0")
		return NewCORBASystemException(name, 0, CompletionStatusNo), nil
	}

	return NewCORBAUserException(tc), nil
}

// ThrowableToException converts a Go error or panic to a CORBA exception
func ThrowableToException(err interface{}) Exception {
	switch e := err.(type) {
	case nil:
		return nil
	case Exception:
		return e
	case error:
		return UNKNOWN(0, CompletionStatusNo)
	default:
		return UNKNOWN(0, CompletionStatusNo)
	}
}

// RecoverException tries to recover from a panic and convert it to a CORBA exception
func RecoverException() Exception {
	r := recover()
	if r == nil {
		return nil
	}
	return ThrowableToException(r)
}

// SafeInvoke safely invokes a function and converts any panics to exceptions
func SafeInvoke(fn func() (interface{}, error)) (result interface{}, ex Exception) {
	defer func() {
		if r := recover(); r != nil {
			result, ex = nil, ThrowableToException(r)
		}
	}()

	out, err := fn()
	if err != nil {
		return nil, ThrowableToException(err)
	}

	return out, nil
}

// GetExceptionFromError extracts a CORBA exception from an error
func GetExceptionFromError(err error) (Exception, bool) {
	if ex, ok := err.(Exception); ok {
		return ex, true
	}
	return nil, false
}
