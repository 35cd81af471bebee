// Copyright 2016 Tamás Demeter-Haludka
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pulse

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"path"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/pulseframe/pulse/lib/log"
	"github.com/spf13/afero"
)

// Root of the project created by NewTestApp().
const TestAppRoot = "/app"

const testAppKey = "base64:AAECAwQFBgcICQABAgMEBQYHCAkAAQIDBAUGBwgJAQI="

// Creates an application from an in-memory project directory.
//
// The keys of files are paths relative to the project root. A config.yml with an app.key and a config/app.yml without services are created unless files has them. The application gets its own Kernel and discards its logs.
func NewTestApp(files map[string]string) (*App, error) {
	fs := afero.NewMemMapFs()

	if _, ok := files["config.yml"]; !ok {
		if err := afero.WriteFile(fs, path.Join(TestAppRoot, "config.yml"), []byte("app:\n  name: pulsetest\n  key: "+testAppKey+"\n"), 0644); err != nil {
			return nil, err
		}
	}

	if _, ok := files["config/app.yml"]; !ok {
		if err := afero.WriteFile(fs, path.Join(TestAppRoot, "config", "app.yml"), []byte("version: 1.0.0\nstage: testing\nregister: []\n"), 0644); err != nil {
			return nil, err
		}
	}

	for name, content := range files {
		if err := afero.WriteFile(fs, path.Join(TestAppRoot, name), []byte(content), 0644); err != nil {
			return nil, err
		}
	}

	a, err := NewApp(fs, TestAppRoot, log.DefaultLogger(io.Discard))
	if err != nil {
		return nil, err
	}
	a.Kernel = NewKernel()
	a.Out = io.Discard

	return a, nil
}

// An HTTP client with a cookie jar, for testing a running server.
//
// Redirects are not followed, so they can be asserted.
type TestClient struct {
	Client *http.Client
	Token  string
	base   string
}

func NewTestClient(base string) *TestClient {
	c := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	c.Jar, _ = cookiejar.New(nil)

	return &TestClient{
		Client: c,
		base:   base,
	}
}

// Creates a client and fetches a CSRF token with it.
func NewTestClientWithToken(base string) *TestClient {
	c := NewTestClient(base)
	c.GetToken()
	return c
}

func (tc *TestClient) Request(method, endpoint string, body io.Reader, processReq func(*http.Request), processResp func(*http.Response), statusCode int) {
	req, _ := http.NewRequest(method, tc.base+endpoint, body)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if tc.Token != "" {
		req.Header.Set("X-CSRF-Token", tc.Token)
	}
	if processReq != nil {
		processReq(req)
	}

	resp, err := tc.Client.Do(req)
	So(err, ShouldBeNil)
	defer resp.Body.Close()
	So(resp.StatusCode, ShouldEqual, statusCode)
	if processResp != nil {
		processResp(resp)
	}
}

func (tc *TestClient) JSONBuffer(v interface{}) io.Reader {
	buf := bytes.NewBuffer(nil)
	So(json.NewEncoder(buf).Encode(v), ShouldBeNil)
	return buf
}

// Decodes the response into v, and compares it with d.
func (tc *TestClient) AssertJSON(resp *http.Response, v, d interface{}) {
	if JSONPrefix {
		So(tc.ConsumePrefix(resp), ShouldBeTrue)
	}
	So(json.NewDecoder(resp.Body).Decode(v), ShouldBeNil)
	So(v, ShouldResemble, d)
}

// Compares the response body with a file.
func (tc *TestClient) AssertFile(resp *http.Response, fs afero.Fs, path string) {
	body, err := io.ReadAll(resp.Body)
	So(err, ShouldBeNil)

	file, err := afero.ReadFile(fs, path)
	So(err, ShouldBeNil)

	So(body, ShouldResemble, file)
}

// Fetches a CSRF token from /csrf-token. The session cookie goes into the jar.
func (tc *TestClient) GetToken() {
	tc.Request(http.MethodGet, "/csrf-token", nil, func(req *http.Request) {
		req.Header.Set("Accept", "text/plain")
	}, func(resp *http.Response) {
		token := tc.ReadBody(resp, false)
		So(token, ShouldNotEqual, "")

		tc.Token = token
	}, http.StatusOK)
}

// Returns the value of a cookie set for the server, or "" if there is none.
func (tc *TestClient) Cookie(name string) string {
	req, _ := http.NewRequest(http.MethodGet, tc.base, nil)
	for _, c := range tc.Client.Jar.Cookies(req.URL) {
		if c.Name == name {
			return c.Value
		}
	}

	return ""
}

func (tc *TestClient) ConsumePrefix(r *http.Response) bool {
	prefix := make([]byte, 6)
	_, err := io.ReadFull(r.Body, prefix)
	So(err, ShouldBeNil)
	return string(prefix) == ")]}',\n"
}

func (tc *TestClient) ReadBody(r *http.Response, JSONPrefix bool) string {
	if JSONPrefix {
		So(tc.ConsumePrefix(r), ShouldBeTrue)
	}

	b, err := io.ReadAll(r.Body)
	So(err, ShouldBeNil)

	return string(b)
}
