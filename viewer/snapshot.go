package viewer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fogleman/fauxgl"
	"github.com/gregjones/httpcache"
	"github.com/nfnt/resize"

	"github.com/thavlik/molsuite/mmcif"
)

// ErrNoTrace is returned when a structure has no CA atoms to draw.
var ErrNoTrace = errors.New("no alpha carbons to draw")

// ErrForbiddenAddress is returned for URLs that resolve to loopback,
// private or link-local addresses.
var ErrForbiddenAddress = errors.New("address not allowed")

// DefaultRCSBDownloadURL is formatted with an upper-case PDB ID.
const DefaultRCSBDownloadURL = "https://files.rcsb.org/download/%s.pdb"

// maxFetchSize bounds remote structure downloads.
const maxFetchSize = 64 << 20

// Snapshotter renders static previews of a structure's CA trace.
// Remote structures are fetched into memory through an HTTP cache.
type Snapshotter struct {
	Client          *http.Client
	RCSBDownloadURL string
	Width, Height   int
	Supersample     int
	// AllowPrivate permits fetches from loopback, private and
	// link-local addresses.
	AllowPrivate bool
}

// NewSnapshotter ...
func NewSnapshotter(rcsbDownloadURL string) *Snapshotter {
	if rcsbDownloadURL == "" {
		rcsbDownloadURL = DefaultRCSBDownloadURL
	}
	s := &Snapshotter{
		RCSBDownloadURL: rcsbDownloadURL,
		Width:           480,
		Height:          360,
		Supersample:     3,
	}
	// Redirects and DNS answers are checked again at dial time.
	dialer := &net.Dialer{Timeout: 30 * time.Second, Control: s.checkDial}
	t := httpcache.NewMemoryCacheTransport()
	t.Transport = &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}
	s.Client = t.Client()
	return s
}

func forbidden(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast()
}

func (s *Snapshotter) checkDial(network, address string, _ syscall.RawConn) error {
	if s.AllowPrivate {
		return nil
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip == nil || forbidden(ip) {
		return fmt.Errorf("%s: %w", host, ErrForbiddenAddress)
	}
	return nil
}

// checkHost resolves the URL's host and rejects it if any address is
// forbidden.
func (s *Snapshotter) checkHost(ctx context.Context, host string) error {
	if s.AllowPrivate {
		return nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %v", host, err)
	}
	for _, addr := range addrs {
		if forbidden(addr.IP) {
			return fmt.Errorf("%s (%s): %w", host, addr.IP, ErrForbiddenAddress)
		}
	}
	return nil
}

// FromFile renders a local structure file.
func (s *Snapshotter) FromFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	format, _ := FormatOf(path)
	return s.FromReader(f, format)
}

// FromRCSB renders an RCSB entry.
func (s *Snapshotter) FromRCSB(ctx context.Context, id string) ([]byte, error) {
	id, err := NormalizePDBID(id)
	if err != nil {
		return nil, err
	}
	return s.FromURL(ctx, fmt.Sprintf(s.RCSBDownloadURL, id))
}

// FromURL downloads and renders a structure.
func (s *Snapshotter) FromURL(ctx context.Context, raw string) ([]byte, error) {
	u, err := CheckURL(raw)
	if err != nil {
		return nil, err
	}
	if err := s.checkHost(ctx, u.Hostname()); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %v", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: %s", u, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	format, _ := FormatOf(u.Path)
	return s.FromReader(bytes.NewReader(body), format)
}

// FromReader renders structure data in the given format. PDB is
// assumed when the format is unknown.
func (s *Snapshotter) FromReader(r io.Reader, format string) ([]byte, error) {
	var trace [][3]float64
	var err error
	switch format {
	case "mmcif":
		trace, err = cifTrace(r)
	default:
		trace, err = pdbTrace(r)
	}
	if err != nil {
		return nil, err
	}
	img, err := s.Render(trace)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png: %v", err)
	}
	return buf.Bytes(), nil
}

// pdbTrace reads CA coordinates of the first model.
func pdbTrace(r io.Reader) ([][3]float64, error) {
	var trace [][3]float64
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		if !strings.HasPrefix(line, "ATOM") || len(line) < 54 {
			continue
		}
		if strings.TrimSpace(line[12:16]) != "CA" {
			continue
		}
		var p [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(line[30+8*i:38+8*i]), 64)
			if err != nil {
				return nil, fmt.Errorf("bad coordinate in '%s'", line)
			}
			p[i] = v
		}
		trace = append(trace, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(trace) == 0 {
		return nil, ErrNoTrace
	}
	return trace, nil
}

func cifTrace(r io.Reader) ([][3]float64, error) {
	mol, err := mmcif.Read(r)
	if errors.Is(err, mmcif.ErrNoAtoms) {
		return nil, ErrNoTrace
	} else if err != nil {
		return nil, fmt.Errorf("mmcif: %v", err)
	}
	if len(mol.Coords) == 0 {
		return nil, ErrNoTrace
	}
	var trace [][3]float64
	for i := 0; i < mol.Len(); i++ {
		if strings.TrimSpace(mol.Atom(i).Name) != "CA" {
			continue
		}
		c := mol.Coords[0]
		trace = append(trace, [3]float64{c.At(i, 0), c.At(i, 1), c.At(i, 2)})
	}
	if len(trace) == 0 {
		return nil, ErrNoTrace
	}
	return trace, nil
}

// maxBond is the longest CA-CA distance drawn as a connection.
const maxBond = 4.2

const colorBuckets = 8

// Render draws the trace as spheres joined by tubes of smaller
// spheres, coloured from blue at the N terminus to red at the C
// terminus.
func (s *Snapshotter) Render(trace [][3]float64) (image.Image, error) {
	if len(trace) == 0 {
		return nil, ErrNoTrace
	}
	ss := s.Supersample
	if ss < 1 {
		ss = 1
	}
	w, h := s.Width, s.Height
	if w <= 0 || h <= 0 {
		w, h = 480, 360
	}

	points := normalize(trace)
	meshes := make([]*fauxgl.Mesh, colorBuckets)
	for i := range meshes {
		meshes[i] = fauxgl.NewEmptyMesh()
	}
	radius := 0.035
	add := func(bucket int, p fauxgl.Vector, r float64) {
		sphere := fauxgl.NewSphere(2)
		sphere.Transform(fauxgl.Scale(fauxgl.V(r, r, r)).Translate(p))
		meshes[bucket].Add(sphere)
	}
	scale := scaleOf(trace)
	for i, p := range points {
		bucket := i * colorBuckets / len(points)
		add(bucket, p, radius)
		if i == 0 {
			continue
		}
		prev := points[i-1]
		if p.Sub(prev).Length()/scale > maxBond {
			continue
		}
		for k := 1; k < 4; k++ {
			add(bucket, prev.Lerp(p, float64(k)/4), radius*0.6)
		}
	}

	dc := fauxgl.NewContext(w*ss, h*ss)
	dc.ClearColorBufferWith(fauxgl.White)
	aspect := float64(w) / float64(h)
	eye := fauxgl.V(0, 0, 3.2)
	matrix := fauxgl.LookAt(eye, fauxgl.V(0, 0, 0), fauxgl.V(0, 1, 0)).Perspective(35, aspect, 0.1, 10)
	light := fauxgl.V(-0.75, 1, 0.5).Normalize()
	for i, mesh := range meshes {
		shader := fauxgl.NewPhongShader(matrix, light, eye)
		shader.ObjectColor = bucketColor(i)
		dc.Shader = shader
		dc.DrawMesh(mesh)
	}
	return resize.Resize(uint(w), uint(h), dc.Image(), resize.Bilinear), nil
}

// normalize centres the trace and fits it in the unit sphere.
func normalize(trace [][3]float64) []fauxgl.Vector {
	var c fauxgl.Vector
	for _, p := range trace {
		c = c.Add(fauxgl.V(p[0], p[1], p[2]))
	}
	c = c.DivScalar(float64(len(trace)))
	scale := scaleOf(trace)
	out := make([]fauxgl.Vector, len(trace))
	for i, p := range trace {
		out[i] = fauxgl.V(p[0], p[1], p[2]).Sub(c).MulScalar(scale)
	}
	return out
}

// scaleOf is the factor that maps the trace's radius to 1.
func scaleOf(trace [][3]float64) float64 {
	var c [3]float64
	for _, p := range trace {
		for k := range c {
			c[k] += p[k] / float64(len(trace))
		}
	}
	var r float64
	for _, p := range trace {
		d := math.Sqrt(math.Pow(p[0]-c[0], 2) + math.Pow(p[1]-c[1], 2) + math.Pow(p[2]-c[2], 2))
		r = math.Max(r, d)
	}
	if r == 0 {
		return 1
	}
	return 1 / r
}

func bucketColor(i int) fauxgl.Color {
	t := float64(i) / float64(colorBuckets-1)
	return fauxgl.Color{R: 0.15 + 0.8*t, G: 0.35 + 0.3*math.Sin(math.Pi*t), B: 0.95 - 0.8*t, A: 1}
}
