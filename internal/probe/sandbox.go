package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/utils"
)

var (
	scriptTag  = regexp.MustCompile(`(?is)<script\b([^>]*)>(.*?)</script\s*>`)
	mediaTag   = regexp.MustCompile(`(?is)<(video|audio|source)\b([^>]*)>`)
	srcAttr    = regexp.MustCompile(`(?i)\b(?:data-)?src\s*=\s*["']([^"']+)["']`)
	typeAttr   = regexp.MustCompile(`(?i)\btype\s*=\s*["']([^"']+)["']`)
	scriptType = regexp.MustCompile(`(?i)^(text|application)/(javascript|ecmascript|x-javascript)$|^module$`)
)

type pageScript struct {
	src    string
	inline string
}

type pageMedia struct {
	tag string
	src string
}

type page struct {
	scripts []pageScript
	media   []pageMedia
}

func parsePage(body []byte) page {
	var p page
	for _, m := range scriptTag.FindAllSubmatch(body, -1) {
		attrs := string(m[1])
		if t := typeAttr.FindStringSubmatch(attrs); t != nil && !scriptType.MatchString(strings.TrimSpace(t[1])) {
			continue
		}
		if s := srcAttr.FindStringSubmatch(attrs); s != nil {
			p.scripts = append(p.scripts, pageScript{src: s[1]})
			continue
		}
		if code := strings.TrimSpace(string(m[2])); code != "" {
			p.scripts = append(p.scripts, pageScript{inline: code})
		}
	}
	for _, m := range mediaTag.FindAllSubmatch(body, -1) {
		if s := srcAttr.FindSubmatch(m[2]); s != nil {
			p.media = append(p.media, pageMedia{tag: strings.ToLower(string(m[1])), src: string(s[1])})
		}
	}
	return p
}

// Sandbox is the hidden playback context: it loads the anchor page, runs its
// scripts in a goja runtime with patched network call points, then starts every
// media element muted. All traffic goes through client, which is expected to be
// wrapped by an Interceptor.
type Sandbox struct {
	client     utils.HTTPDoer
	userAgent  string
	maxBody    int64
	maxScripts int
	maxTimers  int
}

func NewSandbox(client utils.HTTPDoer, userAgent string) *Sandbox {
	if userAgent == "" {
		userAgent = utils.GetRandomUserAgent()
	}
	return &Sandbox{client: client, userAgent: userAgent, maxBody: 4 << 20, maxScripts: 32, maxTimers: 512}
}

type fetched struct {
	status  int
	url     string
	headers map[string]any
	body    string
}

func (s *Sandbox) request(ctx context.Context, method, rawURL, body string, header http.Header) (*fetched, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), rawURL, reader)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, err
	}
	f := &fetched{status: resp.StatusCode, url: rawURL, headers: make(map[string]any), body: string(data)}
	if resp.Request != nil && resp.Request.URL != nil {
		f.url = resp.Request.URL.String()
	}
	for k := range resp.Header {
		f.headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	return f, nil
}

// Open runs the playback context for anchor. It returns once every script and
// queued callback has run and every media element was started, or when ctx ends.
func (s *Sandbox) Open(ctx context.Context, anchor string) error {
	base, err := url.Parse(anchor)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("anchor %q is not addressable", anchor)
	}
	doc, err := s.request(ctx, http.MethodGet, anchor, "", nil)
	if err != nil {
		return fmt.Errorf("error loading anchor: %w", err)
	}
	if doc.status >= 400 {
		return fmt.Errorf("anchor returned status %d", doc.status)
	}
	ct, _ := doc.headers["content-type"].(string)
	if !strings.Contains(strings.ToLower(ct), "html") && !strings.Contains(strings.ToLower(doc.body[:min(len(doc.body), 512)]), "<html") {
		log.Debug().Str("op", "probe/sandbox").Msgf("Anchor %s is not a page (%s), nothing to play", anchor, ct)
		return nil
	}
	if final, err := url.Parse(doc.url); err == nil {
		base = final
	}

	pg := parsePage([]byte(doc.body))
	vm := goja.New()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	pb := &playback{sandbox: s, ctx: ctx, vm: vm, base: base, played: make(map[string]bool)}
	if err := pb.install(); err != nil {
		return fmt.Errorf("error preparing playback context: %w", err)
	}
	for _, m := range pg.media {
		if _, err := vm.RunString(fmt.Sprintf("__siphonDeclare(%q, %q)", m.tag, pb.resolve(m.src))); err != nil {
			return pb.interrupted(err)
		}
	}
	for i, sc := range pg.scripts {
		if i >= s.maxScripts {
			log.Debug().Str("op", "probe/sandbox").Msgf("Script limit reached, skipping %d scripts", len(pg.scripts)-i)
			break
		}
		name, code := fmt.Sprintf("inline-%d.js", i), sc.inline
		if sc.src != "" {
			name = pb.resolve(sc.src)
			f, err := s.request(ctx, http.MethodGet, name, "", nil)
			if err != nil || f.status >= 400 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Debug().Str("op", "probe/sandbox").Msgf("Skipping script %s: %v", name, err)
				continue
			}
			code = f.body
		}
		if _, err := vm.RunScript(name, code); err != nil {
			if ierr := pb.interrupted(err); ierr != nil {
				return ierr
			}
			log.Debug().Str("op", "probe/sandbox").Msgf("Script %s failed: %v", name, err)
		}
		if err := pb.drain(); err != nil {
			return err
		}
	}
	v, err := vm.RunString("__siphonAutoplay()")
	if err != nil {
		return pb.interrupted(err)
	}
	if err := pb.drain(); err != nil {
		return err
	}
	log.Debug().Str("op", "probe/sandbox").Msgf("Playback context for %s started %d media elements", anchor, v.ToInteger())
	return nil
}

type playback struct {
	sandbox *Sandbox
	ctx     context.Context
	vm      *goja.Runtime
	base    *url.URL
	played  map[string]bool
}

func (pb *playback) resolve(ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return pb.base.ResolveReference(u).String()
}

// interrupted maps a goja interruption onto the context error; other errors pass through.
func (pb *playback) interrupted(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if pb.ctx.Err() != nil {
			return pb.ctx.Err()
		}
		return err
	}
	if pb.ctx.Err() != nil {
		return pb.ctx.Err()
	}
	return nil
}

func (pb *playback) drain() error {
	if _, err := pb.vm.RunString(fmt.Sprintf("__siphonDrain(%d)", pb.sandbox.maxTimers)); err != nil {
		return pb.interrupted(err)
	}
	return nil
}

func (pb *playback) install() error {
	vm := pb.vm
	location := map[string]any{
		"href":     pb.base.String(),
		"origin":   pb.base.Scheme + "://" + pb.base.Host,
		"protocol": pb.base.Scheme + ":",
		"host":     pb.base.Host,
		"hostname": pb.base.Hostname(),
		"pathname": pb.base.Path,
		"search":   "",
		"hash":     "",
	}
	if pb.base.RawQuery != "" {
		location["search"] = "?" + pb.base.RawQuery
	}
	if pb.base.Fragment != "" {
		location["hash"] = "#" + pb.base.Fragment
	}
	bindings := map[string]any{
		"__siphonLocation":  location,
		"__siphonUserAgent": pb.sandbox.userAgent,
		"__siphonLog":       pb.log,
		"__siphonRequest":   pb.request,
		"__siphonPlay":      pb.play,
	}
	for name, value := range bindings {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	_, err := vm.RunString(playbackPreludeJS)
	return err
}

func (pb *playback) log(call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments))
	for _, a := range call.Arguments {
		parts = append(parts, a.String())
	}
	log.Debug().Str("op", "probe/sandbox").Msgf("console: %s", strings.Join(parts, " "))
	return goja.Undefined()
}

func (pb *playback) request(call goja.FunctionCall) goja.Value {
	method := call.Argument(0).String()
	target := pb.resolve(call.Argument(1).String())
	body := ""
	if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		body = arg.String()
	}
	f, err := pb.sandbox.request(pb.ctx, method, target, body, nil)
	if err != nil {
		panic(pb.vm.NewGoError(err))
	}
	return pb.vm.ToValue(map[string]any{
		"status":  f.status,
		"url":     f.url,
		"headers": f.headers,
		"body":    f.body,
	})
}

// play starts a muted playback of src: a ranged GET is enough for the player's
// real media request to show up on the intercepting client.
func (pb *playback) play(call goja.FunctionCall) goja.Value {
	target := pb.resolve(call.Argument(0).String())
	if target == "" || pb.played[target] {
		return goja.Undefined()
	}
	pb.played[target] = true
	header := http.Header{"Range": []string{"bytes=0-1"}}
	req, err := http.NewRequestWithContext(pb.ctx, http.MethodGet, target, nil)
	if err != nil {
		return goja.Undefined()
	}
	req.Header = header
	resp, err := pb.sandbox.client.Do(req)
	if err != nil {
		log.Debug().Str("op", "probe/sandbox").Msgf("Playback of %s failed: %v", target, err)
		return goja.Undefined()
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	log.Debug().Str("op", "probe/sandbox").Msgf("Started muted playback of %s (status %d)", target, resp.StatusCode)
	return goja.Undefined()
}
