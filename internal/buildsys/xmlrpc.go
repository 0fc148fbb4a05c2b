package buildsys

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/xerrors"
)

// xmlrpcClient is a minimal XML-RPC client sufficient for the handful of
// build-system methods DistroBaker calls (getBuild, listTagged, build). It is deliberately narrow rather than a general-purpose
// XML-RPC library, matching the teacher's preference for small,
// purpose-built plumbing (cmd/autobuilder/autobuilder.go's buildctx/step
// machinery) over a heavyweight dependency.
type xmlrpcClient struct {
	endpoint   string
	httpClient *http.Client
}

func newXMLRPCClient(endpoint string, hc *http.Client) *xmlrpcClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &xmlrpcClient{endpoint: endpoint, httpClient: hc}
}

type methodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []param  `xml:"params>param"`
}

type param struct {
	Value value `xml:"value"`
}

type value struct {
	String *string  `xml:"string"`
	Int    *int     `xml:"int"`
	I4     *int     `xml:"i4"`
	Bool   *int     `xml:"boolean"`
	Array  *array   `xml:"array"`
	Struct *xstruct `xml:"struct"`
	Raw    string   `xml:",chardata"`
}

type array struct {
	Data []value `xml:"data>value"`
}

type xstruct struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

type methodResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []param  `xml:"params>param"`
	Fault   *struct {
		Value value `xml:"value"`
	} `xml:"fault"`
}

func stringValue(s string) value { return value{String: &s} }
func boolValue(b bool) value {
	n := 0
	if b {
		n = 1
	}
	return value{Bool: &n}
}

// structValue builds a struct-typed value from name/value pairs, e.g. the
// `options` parameter build() takes (spec.md §4.7: `options
// {scratch: build.scratch}`).
func structValue(members map[string]value) value {
	s := &xstruct{Members: make([]member, 0, len(members))}
	for name, v := range members {
		s.Members = append(s.Members, member{Name: name, Value: v})
	}
	return value{Struct: s}
}

// call invokes method with params and returns the decoded response value.
func (c *xmlrpcClient) call(ctx context.Context, method string, params ...value) (*value, error) {
	mc := methodCall{MethodName: method}
	for _, p := range params {
		mc.Params = append(mc.Params, param{Value: p})
	}
	var body bytes.Buffer
	body.WriteString(xml.Header)
	enc := xml.NewEncoder(&body)
	if err := enc.Encode(mc); err != nil {
		return nil, xerrors.Errorf("encoding XML-RPC call %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Errorf("calling %s on %s: %w", method, c.endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("calling %s on %s: unexpected status %s", method, c.endpoint, resp.Status)
	}

	var mr methodResponse
	if err := xml.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, xerrors.Errorf("decoding XML-RPC response for %s: %w", method, err)
	}
	if mr.Fault != nil {
		return nil, xerrors.Errorf("%s faulted: %s", method, faultString(mr.Fault.Value))
	}
	if len(mr.Params) == 0 {
		return nil, nil
	}
	return &mr.Params[0].Value, nil
}

func faultString(v value) string {
	if v.Struct == nil {
		return v.Raw
	}
	for _, m := range v.Struct.Members {
		if m.Name == "faultString" && m.Value.String != nil {
			return *m.Value.String
		}
	}
	return "unknown fault"
}

func (v *value) asString() (string, bool) {
	if v == nil {
		return "", false
	}
	if v.String != nil {
		return *v.String, true
	}
	if v.Raw != "" {
		return v.Raw, true
	}
	return "", false
}

func (v *value) asInt() (int, bool) {
	if v == nil {
		return 0, false
	}
	if v.Int != nil {
		return *v.Int, true
	}
	if v.I4 != nil {
		return *v.I4, true
	}
	if v.Raw != "" {
		if n, err := strconv.Atoi(v.Raw); err == nil {
			return n, true
		}
	}
	return 0, false
}

func (v *value) member(name string) *value {
	if v == nil || v.Struct == nil {
		return nil
	}
	for i := range v.Struct.Members {
		if v.Struct.Members[i].Name == name {
			return &v.Struct.Members[i].Value
		}
	}
	return nil
}

func (v *value) items() []value {
	if v == nil || v.Array == nil {
		return nil
	}
	return v.Array.Data
}

func buildFromStruct(v *value) Build {
	var b Build
	if s, ok := v.member("nvr").asString(); ok {
		b.NVR = s
	}
	if n, ok := v.member("build_id").asInt(); ok {
		b.ID = n
	} else if n, ok := v.member("task_id").asInt(); ok {
		b.ID = n
	}
	if s, ok := v.member("state").asString(); ok {
		b.State = s
	} else if n, ok := v.member("state").asInt(); ok {
		b.State = fmt.Sprintf("%d", n)
	}
	if s, ok := v.member("source").asString(); ok {
		b.Source = s
	}
	return b
}
