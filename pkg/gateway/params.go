package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxUploadBytes bounds multipart uploads read into memory.
const maxUploadBytes = 50 << 20

// Params carries the decoded request parameters into a handler. File
// bytes from multipart uploads travel out of band from the string
// values.
type Params struct {
	values   map[string]string
	FileData []byte
}

func newParams() Params {
	return Params{values: map[string]string{}}
}

func (p Params) Get(key string) string {
	return strings.TrimSpace(p.values[key])
}

func (p Params) Int(key string, def int) int {
	v := p.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p Params) Bool(key string, def bool) bool {
	v := strings.ToLower(p.Get(key))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func (p Params) set(key, value string) {
	p.values[key] = value
}

// bodyParams accepts either a JSON object or form data, mirroring how
// the daemon's callers actually post. Query parameters fill any gaps.
func bodyParams(r *http.Request) (Params, error) {
	p := newParams()

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var body map[string]interface{}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil && err != io.EOF {
			return p, badRequest("invalid JSON body: %v", err)
		}
		for k, v := range body {
			p.set(k, stringify(v))
		}
	default:
		if err := r.ParseForm(); err != nil {
			return p, badRequest("invalid form body: %v", err)
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				p.set(k, vs[0])
			}
		}
	}

	for k, vs := range r.URL.Query() {
		if _, ok := p.values[k]; !ok && len(vs) > 0 {
			p.set(k, vs[0])
		}
	}
	return p, nil
}

func queryParams(r *http.Request) Params {
	p := newParams()
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			p.set(k, vs[0])
		}
	}
	return p
}

// multipartParams reads a file upload: the "file" part becomes
// FileData and its filename, every other part a string value.
func multipartParams(r *http.Request) (Params, error) {
	p := newParams()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return p, badRequest("invalid multipart body: %v", err)
	}
	for k, vs := range r.MultipartForm.Value {
		if len(vs) > 0 {
			p.set(k, vs[0])
		}
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		return p, badRequest("No file provided")
	}
	f, err := files[0].Open()
	if err != nil {
		return p, badRequest("read file part: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return p, badRequest("read file part: %v", err)
	}
	p.FileData = data
	if p.Get("filename") == "" {
		p.set("filename", files[0].Filename)
	}
	return p, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
