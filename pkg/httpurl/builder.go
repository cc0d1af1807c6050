package httpurl

// Builder constructs a URL from parts, mirroring Parse's invariants.
type Builder struct {
	scheme       string
	username     string
	password     string
	host         string
	port         int
	portSet      bool
	pathSegments []string
	queryPresent bool
	queryNames   []string
	queryValues  []*string
	fragment     *string
}

// NewBuilder starts a Builder defaulting to http://localhost/.
func NewBuilder() *Builder {
	return &Builder{
		scheme:       "http",
		host:         "localhost",
		pathSegments: []string{""},
	}
}

// FromURL starts a Builder pre-populated from an existing URL.
func FromURL(u *URL) *Builder {
	b := &Builder{
		scheme:       u.scheme,
		username:     u.username,
		password:     u.password,
		host:         u.host,
		port:         u.port,
		portSet:      true,
		pathSegments: append([]string(nil), u.pathSegments...),
		queryPresent: u.queryPresent,
		queryNames:   append([]string(nil), u.queryNames...),
		queryValues:  append([]*string(nil), u.queryValues...),
	}
	if u.fragment != nil {
		f := *u.fragment
		b.fragment = &f
	}
	return b
}

func (b *Builder) Scheme(scheme string) *Builder {
	if scheme != "http" && scheme != "https" {
		panic(&InvalidURLError{Input: scheme, Reason: "scheme must be http or https"})
	}
	b.scheme = scheme
	return b
}

func (b *Builder) Username(username string) *Builder { b.username = username; return b }
func (b *Builder) Password(password string) *Builder { b.password = password; return b }

func (b *Builder) Host(host string) *Builder {
	canon, err := canonicalizeHost(host)
	if err != nil {
		panic(&InvalidURLError{Input: host, Reason: err.Error()})
	}
	b.host = canon
	return b
}

func (b *Builder) Port(port int) *Builder {
	if port < 1 || port > 65535 {
		panic(&InvalidURLError{Input: "", Reason: "port out of range"})
	}
	b.port = port
	b.portSet = true
	return b
}

// SetPathSegments replaces the full decoded path segment list.
func (b *Builder) SetPathSegments(segments []string) *Builder {
	if len(segments) == 0 {
		segments = []string{""}
	}
	b.pathSegments = append([]string(nil), segments...)
	return b
}

// AddPathSegment appends one decoded path segment.
func (b *Builder) AddPathSegment(segment string) *Builder {
	if len(b.pathSegments) == 1 && b.pathSegments[0] == "" {
		b.pathSegments = []string{segment}
	} else {
		b.pathSegments = append(b.pathSegments, segment)
	}
	return b
}

// AddQueryParameter appends a decoded (name, value) query pair.
func (b *Builder) AddQueryParameter(name, value string) *Builder {
	b.queryPresent = true
	v := value
	b.queryNames = append(b.queryNames, name)
	b.queryValues = append(b.queryValues, &v)
	return b
}

// AddQueryParameterNoValue appends a bare query name with no "=".
func (b *Builder) AddQueryParameterNoValue(name string) *Builder {
	b.queryPresent = true
	b.queryNames = append(b.queryNames, name)
	b.queryValues = append(b.queryValues, nil)
	return b
}

func (b *Builder) Fragment(fragment string) *Builder {
	f := fragment
	b.fragment = &f
	return b
}

// Build freezes the Builder into an immutable URL.
func (b *Builder) Build() *URL {
	port := b.port
	if !b.portSet {
		port = DefaultPort(b.scheme)
	}
	u := &URL{
		scheme:       b.scheme,
		username:     b.username,
		password:     b.password,
		host:         b.host,
		port:         port,
		pathSegments: append([]string(nil), b.pathSegments...),
		queryPresent: b.queryPresent,
		queryNames:   append([]string(nil), b.queryNames...),
		queryValues:  append([]*string(nil), b.queryValues...),
	}
	if b.fragment != nil {
		f := *b.fragment
		u.fragment = &f
	}
	u.canonical = u.render()
	u.canonicalValid = true
	return u
}
