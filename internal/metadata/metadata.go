// Package metadata embeds VirtualMachine records in libvirt domain metadata.
// The record travels with the domain definition so a domain found on a
// hypervisor can be traced back to the row that created it.
package metadata

import (
	"encoding/xml"
	"fmt"

	"gopkg.in/yaml.v3"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/yolocloud/api/v1alpha1"
)

const (
	// Namespace is the XML namespace of the yolocloud metadata element.
	Namespace = "http://yolocloud.io/v1alpha1"

	// Prefix is the namespace prefix used when writing the element.
	Prefix = "yolocloud"

	// Element is the local name of the metadata element.
	Element = "vm"
)

// vmElement is the XML structure written inside <metadata>.
// The record is stored as YAML text so it stays readable in virsh dumpxml.
type vmElement struct {
	XMLName xml.Name `xml:"yolocloud:vm"`
	Xmlns   string   `xml:"xmlns:yolocloud,attr"`
	// SpecYAML contains the VirtualMachine serialized as YAML
	SpecYAML string `xml:",chardata"`
}

// entry matches any child of <metadata> with its resolved namespace.
type entry struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Inner   string     `xml:",innerxml"`
}

// passthrough re-encodes a foreign metadata element unchanged.
type passthrough struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// Encode renders vm as a namespaced metadata element.
func Encode(vm *v1alpha1.VirtualMachine) (string, error) {
	yamlData, err := yaml.Marshal(vm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM record to YAML: %w", err)
	}

	xmlData, err := xml.Marshal(vmElement{
		Xmlns:    Namespace,
		SpecYAML: string(yamlData),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}
	return string(xmlData), nil
}

// Embed stores vm in dom's metadata, keeping any other metadata elements.
// An existing yolocloud element is replaced.
func Embed(dom *libvirtxml.Domain, vm *v1alpha1.VirtualMachine) error {
	element, err := Encode(vm)
	if err != nil {
		return err
	}

	var others string
	if dom.Metadata != nil {
		entries, err := parse(dom.Metadata.XML)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if isOurs(e.XMLName) {
				continue
			}
			raw, err := xml.Marshal(passthrough{XMLName: e.XMLName, Attrs: withoutNamespaceDecls(e.Attrs), Inner: e.Inner})
			if err != nil {
				return fmt.Errorf("failed to re-encode metadata element %s: %w", e.XMLName.Local, err)
			}
			others += string(raw)
		}
	}

	dom.Metadata = &libvirtxml.DomainMetadata{XML: others + element}
	return nil
}

// Decode extracts the VirtualMachine record from the inner XML of a
// domain's <metadata> element. The boolean is false when no yolocloud
// element is present.
func Decode(innerXML string) (*v1alpha1.VirtualMachine, bool, error) {
	entries, err := parse(innerXML)
	if err != nil {
		return nil, false, err
	}

	for _, e := range entries {
		if !isOurs(e.XMLName) {
			continue
		}
		var vm v1alpha1.VirtualMachine
		if err := yaml.Unmarshal([]byte(e.Text), &vm); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal VM record from YAML: %w", err)
		}
		return &vm, true, nil
	}
	return nil, false, nil
}

func parse(innerXML string) ([]entry, error) {
	var wrapper struct {
		Entries []entry `xml:",any"`
	}
	if err := xml.Unmarshal([]byte("<metadata>"+innerXML+"</metadata>"), &wrapper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	return wrapper.Entries, nil
}

func isOurs(name xml.Name) bool {
	return name.Space == Namespace && name.Local == Element
}

// withoutNamespaceDecls drops xmlns attributes; the encoder writes the
// element namespace itself.
func withoutNamespaceDecls(attrs []xml.Attr) []xml.Attr {
	var out []xml.Attr
	for _, a := range attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		out = append(out, a)
	}
	return out
}
