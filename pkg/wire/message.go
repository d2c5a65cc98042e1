package wire

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrProtocol marks a line that does not parse as a well-formed message for
// its expected verb.
var ErrProtocol = errors.New("wire: protocol violation")

// Verb constants name every line-oriented message defined by the protocol.
const (
	VerbReady        = "ready"
	VerbAlive        = "alive"
	VerbCacheUpdate  = "cache-update"
	VerbCacheInvalid = "cache-invalid"
	VerbResult       = "result"
	VerbFileStream   = "file-stream"

	VerbPing   = "ping"
	VerbFile   = "file"
	VerbPutURL = "puturl"
	VerbPutCmd = "putcmd"
	VerbUnlink = "unlink"
	VerbGetFile = "getfile"
	VerbTask   = "task"
	VerbKill   = "kill"
	VerbExit   = "exit"
	VerbEnd    = "end"
)

// Message is a parsed protocol line: a verb and its whitespace-separated
// arguments. Most verbs are fully described by Verb+Args; "task" is the one
// multi-line exception, handled separately by EncodeTaskBlock/DecodeTaskBlock.
type Message struct {
	Verb string
	Args []string
}

// ParseLine tokenizes a raw line into a Message. An empty line is itself a
// protocol violation; callers that tolerate blank keepalive lines should
// filter those before calling ParseLine.
func ParseLine(line string) (*Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrProtocol)
	}
	return &Message{Verb: fields[0], Args: fields[1:]}, nil
}

// Encode renders the message back into a single line without the trailing
// newline (Link.Printf adds it).
func (m *Message) Encode() string {
	if len(m.Args) == 0 {
		return m.Verb
	}
	return m.Verb + " " + strings.Join(m.Args, " ")
}

func (m *Message) arg(i int) (string, error) {
	if i >= len(m.Args) {
		return "", fmt.Errorf("%w: %s missing argument %d", ErrProtocol, m.Verb, i)
	}
	return m.Args[i], nil
}

func (m *Message) intArg(i int) (int64, error) {
	s, err := m.arg(i)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s argument %d not an integer: %v", ErrProtocol, m.Verb, i, err)
	}
	return v, nil
}

// escapeField makes an arbitrary string safe to carry as one
// whitespace-free token in a line-oriented message: url.QueryEscape turns
// every space, underscore, and percent into a literal-safe form that
// url.QueryUnescape inverts exactly, so fields that legitimately contain
// underscores (a cmd like "run_job.sh") round-trip unchanged.
func escapeField(s string) string {
	return url.QueryEscape(s)
}

func unescapeField(s string) (string, error) {
	v, err := url.QueryUnescape(s)
	if err != nil {
		return "", fmt.Errorf("%w: malformed escaped field %q: %v", ErrProtocol, s, err)
	}
	return v, nil
}

// Ready describes a worker's initial announcement.
type Ready struct {
	WorkerName string
	Cores      int64
	MemoryMB   int64
	DiskMB     int64
	GPUs       int64
	Workdir    string
}

func EncodeReady(r Ready) *Message {
	return &Message{Verb: VerbReady, Args: []string{
		r.WorkerName,
		strconv.FormatInt(r.Cores, 10),
		strconv.FormatInt(r.MemoryMB, 10),
		strconv.FormatInt(r.DiskMB, 10),
		strconv.FormatInt(r.GPUs, 10),
		r.Workdir,
	}}
}

func DecodeReady(m *Message) (Ready, error) {
	var r Ready
	var err error
	if r.WorkerName, err = m.arg(0); err != nil {
		return r, err
	}
	if r.Cores, err = m.intArg(1); err != nil {
		return r, err
	}
	if r.MemoryMB, err = m.intArg(2); err != nil {
		return r, err
	}
	if r.DiskMB, err = m.intArg(3); err != nil {
		return r, err
	}
	if r.GPUs, err = m.intArg(4); err != nil {
		return r, err
	}
	if r.Workdir, err = m.arg(5); err != nil {
		return r, err
	}
	return r, nil
}

// CacheUpdate announces that a queued object has been materialized.
type CacheUpdate struct {
	CacheName    string
	SizeBytes    int64
	ElapsedUsec  int64
}

func EncodeCacheUpdate(c CacheUpdate) *Message {
	return &Message{Verb: VerbCacheUpdate, Args: []string{
		c.CacheName,
		strconv.FormatInt(c.SizeBytes, 10),
		strconv.FormatInt(c.ElapsedUsec, 10),
	}}
}

func DecodeCacheUpdate(m *Message) (CacheUpdate, error) {
	var c CacheUpdate
	var err error
	if c.CacheName, err = m.arg(0); err != nil {
		return c, err
	}
	if c.SizeBytes, err = m.intArg(1); err != nil {
		return c, err
	}
	if c.ElapsedUsec, err = m.intArg(2); err != nil {
		return c, err
	}
	return c, nil
}

// CacheInvalid announces that materialization of a queued object failed.
type CacheInvalid struct {
	CacheName string
	Message   string
}

func EncodeCacheInvalid(c CacheInvalid) *Message {
	return &Message{Verb: VerbCacheInvalid, Args: []string{c.CacheName, escapeField(c.Message)}}
}

func DecodeCacheInvalid(m *Message) (CacheInvalid, error) {
	var c CacheInvalid
	var err error
	if c.CacheName, err = m.arg(0); err != nil {
		return c, err
	}
	reason, err := m.arg(1)
	if err != nil {
		return c, err
	}
	if c.Message, err = unescapeField(reason); err != nil {
		return c, err
	}
	return c, nil
}

// Result announces a finished task, followed on the wire by StdoutSize raw
// bytes of captured stdout. Overflowed and the two Overflow* fields are only
// meaningful when Overflowed is true: the worker killed the task itself
// after its cgroup usage crossed the task's allocation, rather than letting
// the process run to completion.
type Result struct {
	TaskID           int64
	ReturnStatus     int64
	StdoutSize       int64
	ElapsedUsec      int64
	Overflowed       bool
	OverflowCoresM   int64 // measured cores used, in thousandths
	OverflowMemoryMB int64
}

func EncodeResult(r Result) *Message {
	overflowed := int64(0)
	if r.Overflowed {
		overflowed = 1
	}
	return &Message{Verb: VerbResult, Args: []string{
		strconv.FormatInt(r.TaskID, 10),
		strconv.FormatInt(r.ReturnStatus, 10),
		strconv.FormatInt(r.StdoutSize, 10),
		strconv.FormatInt(r.ElapsedUsec, 10),
		strconv.FormatInt(overflowed, 10),
		strconv.FormatInt(r.OverflowCoresM, 10),
		strconv.FormatInt(r.OverflowMemoryMB, 10),
	}}
}

func DecodeResult(m *Message) (Result, error) {
	var r Result
	var err error
	if r.TaskID, err = m.intArg(0); err != nil {
		return r, err
	}
	if r.ReturnStatus, err = m.intArg(1); err != nil {
		return r, err
	}
	if r.StdoutSize, err = m.intArg(2); err != nil {
		return r, err
	}
	if r.ElapsedUsec, err = m.intArg(3); err != nil {
		return r, err
	}
	// The overflow fields were added after the original four; tolerate
	// older result lines that omit them.
	if len(m.Args) <= 4 {
		return r, nil
	}
	overflowed, err := m.intArg(4)
	if err != nil {
		return r, err
	}
	r.Overflowed = overflowed != 0
	if r.OverflowCoresM, err = m.intArg(5); err != nil {
		return r, err
	}
	if r.OverflowMemoryMB, err = m.intArg(6); err != nil {
		return r, err
	}
	return r, nil
}

// FileStream announces Size raw bytes follow, in reply to getfile.
type FileStream struct {
	CacheName string
	Size      int64
	Mode      int64
}

func EncodeFileStream(f FileStream) *Message {
	return &Message{Verb: VerbFileStream, Args: []string{
		f.CacheName, strconv.FormatInt(f.Size, 10), strconv.FormatInt(f.Mode, 10),
	}}
}

func DecodeFileStream(m *Message) (FileStream, error) {
	var f FileStream
	var err error
	if f.CacheName, err = m.arg(0); err != nil {
		return f, err
	}
	if f.Size, err = m.intArg(1); err != nil {
		return f, err
	}
	if f.Mode, err = m.intArg(2); err != nil {
		return f, err
	}
	return f, nil
}

// FilePush pushes an input object, followed by Size raw bytes.
type FilePush struct {
	CacheName string
	Size      int64
	Mode      int64
}

func EncodeFile(f FilePush) *Message {
	return &Message{Verb: VerbFile, Args: []string{
		f.CacheName, strconv.FormatInt(f.Size, 10), strconv.FormatInt(f.Mode, 10),
	}}
}

func DecodeFile(m *Message) (FilePush, error) {
	var f FilePush
	var err error
	if f.CacheName, err = m.arg(0); err != nil {
		return f, err
	}
	if f.Size, err = m.intArg(1); err != nil {
		return f, err
	}
	if f.Mode, err = m.intArg(2); err != nil {
		return f, err
	}
	return f, nil
}

// PutURL queues a URL fetch materialization.
type PutURL struct {
	CacheName string
	URL       string
	Size      int64
	Mode      int64
}

func EncodePutURL(p PutURL) *Message {
	return &Message{Verb: VerbPutURL, Args: []string{
		p.CacheName, p.URL, strconv.FormatInt(p.Size, 10), strconv.FormatInt(p.Mode, 10),
	}}
}

func DecodePutURL(m *Message) (PutURL, error) {
	var p PutURL
	var err error
	if p.CacheName, err = m.arg(0); err != nil {
		return p, err
	}
	if p.URL, err = m.arg(1); err != nil {
		return p, err
	}
	if p.Size, err = m.intArg(2); err != nil {
		return p, err
	}
	if p.Mode, err = m.intArg(3); err != nil {
		return p, err
	}
	return p, nil
}

// PutCmd queues a producer-command materialization. ShellTemplate is
// field-escaped the same way CacheInvalid's message is, since it may
// contain spaces (or underscores, which a naive space/underscore swap
// would corrupt).
type PutCmd struct {
	CacheName     string
	ShellTemplate string
	Size          int64
	Mode          int64
}

func EncodePutCmd(p PutCmd) *Message {
	return &Message{Verb: VerbPutCmd, Args: []string{
		p.CacheName, escapeField(p.ShellTemplate),
		strconv.FormatInt(p.Size, 10), strconv.FormatInt(p.Mode, 10),
	}}
}

func DecodePutCmd(m *Message) (PutCmd, error) {
	var p PutCmd
	var err error
	if p.CacheName, err = m.arg(0); err != nil {
		return p, err
	}
	tmpl, err := m.arg(1)
	if err != nil {
		return p, err
	}
	if p.ShellTemplate, err = unescapeField(tmpl); err != nil {
		return p, err
	}
	if p.Size, err = m.intArg(2); err != nil {
		return p, err
	}
	if p.Mode, err = m.intArg(3); err != nil {
		return p, err
	}
	return p, nil
}

// Unlink removes an object from the worker's cache.
func EncodeUnlink(cacheName string) *Message {
	return &Message{Verb: VerbUnlink, Args: []string{cacheName}}
}

func DecodeUnlink(m *Message) (string, error) {
	return m.arg(0)
}

// GetFile requests an output object be streamed back.
func EncodeGetFile(cacheName string) *Message {
	return &Message{Verb: VerbGetFile, Args: []string{cacheName}}
}

func DecodeGetFile(m *Message) (string, error) {
	return m.arg(0)
}

// Kill terminates a running task.
func EncodeKill(taskID int64) *Message {
	return &Message{Verb: VerbKill, Args: []string{strconv.FormatInt(taskID, 10)}}
}

func DecodeKill(m *Message) (int64, error) {
	return m.intArg(0)
}

// TaskLine is one keyed attribute line inside a task...end block.
type TaskLine struct {
	Key   string
	Value string
}

// TaskBlock is the fully parsed task...end message: the leading "task
// <task_id>" line plus every keyed line up to "end".
type TaskBlock struct {
	TaskID   int64
	Cmd      string
	Inputs   []string
	Outputs  []string
	Env      map[string]string
	Cores    float64
	MemoryMB int64
	DiskMB   int64
	GPUs     int64
	WallTime int64
	Category string
}

// EncodeTaskBlock renders a full task...end block as a slice of lines, ready
// to be written one at a time with Link.Printf.
func EncodeTaskBlock(t TaskBlock) []string {
	lines := []string{fmt.Sprintf("%s %d", VerbTask, t.TaskID)}
	lines = append(lines, fmt.Sprintf("cmd %s", escapeField(t.Cmd)))
	for _, in := range t.Inputs {
		lines = append(lines, fmt.Sprintf("input %s", in))
	}
	for _, out := range t.Outputs {
		lines = append(lines, fmt.Sprintf("output %s", out))
	}
	for k, v := range t.Env {
		lines = append(lines, fmt.Sprintf("env %s %s", escapeField(k), escapeField(v)))
	}
	if t.Cores > 0 {
		lines = append(lines, fmt.Sprintf("cores %g", t.Cores))
	}
	if t.MemoryMB > 0 {
		lines = append(lines, fmt.Sprintf("memory %d", t.MemoryMB))
	}
	if t.DiskMB > 0 {
		lines = append(lines, fmt.Sprintf("disk %d", t.DiskMB))
	}
	if t.GPUs > 0 {
		lines = append(lines, fmt.Sprintf("gpus %d", t.GPUs))
	}
	if t.WallTime > 0 {
		lines = append(lines, fmt.Sprintf("wall_time %d", t.WallTime))
	}
	if t.Category != "" {
		lines = append(lines, fmt.Sprintf("category %s", t.Category))
	}
	lines = append(lines, VerbEnd)
	return lines
}

// DecodeTaskBlock parses lines following the leading "task <task_id>" line,
// up to and including "end". It returns the populated block.
func DecodeTaskBlock(taskID int64, lines []string) (TaskBlock, error) {
	t := TaskBlock{TaskID: taskID, Env: map[string]string{}}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		key := fields[0]
		rest := fields[1:]
		switch key {
		case VerbEnd:
			return t, nil
		case "cmd":
			if len(rest) < 1 {
				return t, fmt.Errorf("%w: task cmd missing value", ErrProtocol)
			}
			cmd, err := unescapeField(rest[0])
			if err != nil {
				return t, err
			}
			t.Cmd = cmd
		case "input":
			if len(rest) < 1 {
				return t, fmt.Errorf("%w: task input missing value", ErrProtocol)
			}
			t.Inputs = append(t.Inputs, rest[0])
		case "output":
			if len(rest) < 1 {
				return t, fmt.Errorf("%w: task output missing value", ErrProtocol)
			}
			t.Outputs = append(t.Outputs, rest[0])
		case "env":
			if len(rest) < 2 {
				return t, fmt.Errorf("%w: task env missing key/value", ErrProtocol)
			}
			envKey, err := unescapeField(rest[0])
			if err != nil {
				return t, err
			}
			envVal, err := unescapeField(rest[1])
			if err != nil {
				return t, err
			}
			t.Env[envKey] = envVal
		case "cores":
			v, err := strconv.ParseFloat(valueOrEmpty(rest), 64)
			if err != nil {
				return t, fmt.Errorf("%w: task cores: %v", ErrProtocol, err)
			}
			t.Cores = v
		case "memory":
			v, err := strconv.ParseInt(valueOrEmpty(rest), 10, 64)
			if err != nil {
				return t, fmt.Errorf("%w: task memory: %v", ErrProtocol, err)
			}
			t.MemoryMB = v
		case "disk":
			v, err := strconv.ParseInt(valueOrEmpty(rest), 10, 64)
			if err != nil {
				return t, fmt.Errorf("%w: task disk: %v", ErrProtocol, err)
			}
			t.DiskMB = v
		case "gpus":
			v, err := strconv.ParseInt(valueOrEmpty(rest), 10, 64)
			if err != nil {
				return t, fmt.Errorf("%w: task gpus: %v", ErrProtocol, err)
			}
			t.GPUs = v
		case "wall_time":
			v, err := strconv.ParseInt(valueOrEmpty(rest), 10, 64)
			if err != nil {
				return t, fmt.Errorf("%w: task wall_time: %v", ErrProtocol, err)
			}
			t.WallTime = v
		case "category":
			if len(rest) < 1 {
				return t, fmt.Errorf("%w: task category missing value", ErrProtocol)
			}
			t.Category = rest[0]
		default:
			return t, fmt.Errorf("%w: unknown task attribute %q", ErrProtocol, key)
		}
	}
	return t, fmt.Errorf("%w: task block missing end", ErrProtocol)
}

func valueOrEmpty(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
