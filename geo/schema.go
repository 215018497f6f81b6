// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/siemens/blackdig/types"

	"github.com/xeipuuv/gojsonschema"
)

// responseSchema describes the response bodies we accept from the lookup
// service. Unknown properties, such as "org" or "timezone", are fine.
const responseSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"ip":      { "type": "string" },
		"city":    { "type": ["string", "null"] },
		"region":  { "type": ["string", "null"] },
		"country": { "type": ["string", "null"] },
		"loc":     { "type": ["string", "null"] },
		"bogon":   { "type": "boolean" }
	}
}`

var schema = mustCompile(responseSchema)

func mustCompile(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// response is the part of the lookup service's response we're interested in.
type response struct {
	types.Geo
	Bogon bool `json:"bogon"`
}

// errBogon signals a response for a non-routable (bogon) address.
var errBogon = errors.New("bogon address")

// decode validates the specified response body and returns the geographic
// information it contains.
func decode(body []byte) (types.Geo, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return types.Geo{}, errors.New("response is not JSON")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return types.Geo{}, errors.New("malformed response: " + strings.Join(problems, "; "))
	}
	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.Geo{}, errors.New("malformed response: " + err.Error())
	}
	if resp.Bogon {
		return types.Geo{}, errBogon
	}
	return resp.Geo, nil
}
