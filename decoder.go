// Copyright 2015 Tamás Demeter-Haludka
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
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
)

var ErrNoDecoder = errors.New("no decoder found for the request content type")

// Decoded values implementing Validator are validated by MustDecode.
type Validator interface {
	Validate() error
}

// Request body decoders. The key is the content type, the value is a decoder that decodes the contents of the Reader into v.
var Decoders = map[string]func(body io.Reader, v interface{}) error{
	"application/json":                  JSONDecoder,
	"application/xml":                   XMLDecoder,
	"text/xml":                          XMLDecoder,
	"text/csv":                          CSVDecoder,
	"application/x-www-form-urlencoded": FormDecoder,
}

func JSONDecoder(body io.Reader, v interface{}) error {
	return json.NewDecoder(body).Decode(v)
}

func XMLDecoder(body io.Reader, v interface{}) error {
	return xml.NewDecoder(body).Decode(v)
}

// v must be *[][]string
func CSVDecoder(body io.Reader, v interface{}) error {
	if m, ok := v.(*[][]string); ok {
		var err error
		*m, err = csv.NewReader(body).ReadAll()
		return err
	}

	return errors.New("invalid data type for csv")
}

// Decodes an urlencoded form.
//
// v must be *url.Values or *map[string]string. In the latter case only the first value of each field is kept.
func FormDecoder(body io.Reader, v interface{}) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	values, err := url.ParseQuery(string(b))
	if err != nil {
		return err
	}

	switch m := v.(type) {
	case *url.Values:
		*m = values
	case *map[string]string:
		*m = make(map[string]string, len(values))
		for k := range values {
			(*m)[k] = values.Get(k)
		}
	default:
		return errors.New("invalid data type for form")
	}

	return nil
}

// Decodes a request body into v. After decoding, it closes the body.
//
// This function considers only the Content-Type header, and requires its presence. See the Decoders variable for more information.
func Decode(r *http.Request, v interface{}) error {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ErrNoDecoder
	}

	if dec, ok := Decoders[ct]; ok {
		defer r.Body.Close()
		return dec(r.Body, v)
	}

	return ErrNoDecoder
}

// Same as Decode(), but it fails the request instead of returning an error.
//
// An unknown content type fails with 415, invalid data with 400.
func MustDecode(r *http.Request, v interface{}) {
	err := Decode(r, v)
	if err == ErrNoDecoder {
		Fail(http.StatusUnsupportedMediaType, err)
	}
	if err != nil {
		Fail(http.StatusBadRequest, err)
	}

	if val, ok := v.(Validator); ok {
		MaybeFail(http.StatusBadRequest, val.Validate())
	}
}
