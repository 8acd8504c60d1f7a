package contract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const junitSuiteName = "site_export contract"

// RenderJUnit renders the integrity result as a JUnit XML document with one
// testcase per contract so CI systems can surface failures.
func RenderJUnit(res *IntegrityResult) ([]byte, error) {
	cases := []struct {
		name    string
		failure string
	}{
		{"report contract", res.ReportFailure()},
		{"evidence contract", res.EvidenceFailure()},
	}

	failures := 0
	for _, c := range cases {
		if c.failure != "" {
			failures++
		}
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	suite := doc.CreateElement("testsuite")
	suite.CreateAttr("name", junitSuiteName)
	suite.CreateAttr("tests", strconv.Itoa(len(cases)))
	suite.CreateAttr("failures", strconv.Itoa(failures))
	suite.CreateAttr("errors", "0")

	props := suite.CreateElement("properties")
	prop := props.CreateElement("property")
	prop.CreateAttr("name", "bundle_root")
	prop.CreateAttr("value", res.Root)

	for _, c := range cases {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", "exportsync.contract")
		tc.CreateAttr("name", c.name)
		if c.failure == "" {
			continue
		}
		f := tc.CreateElement("failure")
		f.CreateAttr("message", firstLine(c.failure))
		f.CreateAttr("type", "ContractViolation")
		f.SetText(c.failure)
	}

	doc.Indent(2)
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render junit report: %w", err)
	}
	return buf.Bytes(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
