package document

import (
	"bytes"
	"encoding/xml"
	"strings"

	"golang.org/x/net/html/charset"

	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
)

// Namespaces used by WSDL 1.1 documents.
const (
	NamespaceWSDL   = "http://schemas.xmlsoap.org/wsdl/"
	NamespaceSOAP   = "http://schemas.xmlsoap.org/wsdl/soap/"
	NamespaceSOAP12 = "http://schemas.xmlsoap.org/wsdl/soap12/"
)

// WSDLPart is one part of a message.
type WSDLPart struct {
	Name    string
	Type    string
	Element string
}

// WSDLMessage is a named list of parts.
type WSDLMessage struct {
	Name  string
	Parts []WSDLPart
}

// WSDLOperation is an abstract portType operation.
type WSDLOperation struct {
	Name   string
	Input  string
	Output string
}

// WSDLPortType lists operations in declaration order.
type WSDLPortType struct {
	Name       string
	Operations []WSDLOperation
}

// WSDLBindingOperation carries the SOAP binding details of one operation.
type WSDLBindingOperation struct {
	Name       string
	SOAPAction string
	Style      string
}

// WSDLBinding binds a portType to SOAP.
type WSDLBinding struct {
	Name       string
	PortType   string
	Style      string
	Transport  string
	Operations map[string]WSDLBindingOperation
}

// WSDLPort is a service endpoint.
type WSDLPort struct {
	Name     string
	Binding  string
	Location string
}

// WSDLService groups ports.
type WSDLService struct {
	Name  string
	Ports []WSDLPort
}

// WSDLDocument holds the resolved tables of a WSDL 1.1 description.
type WSDLDocument struct {
	Name            string
	TargetNamespace string
	Messages        map[string]WSDLMessage
	PortTypes       map[string]WSDLPortType
	Bindings        map[string]WSDLBinding
	Services        []WSDLService
}

func (*WSDLDocument) Dialect() Dialect { return WSDL }
func (*WSDLDocument) document()        {}

// Info implements Document.
func (d *WSDLDocument) Info() Info {
	name := d.Name
	if name == "" {
		name = "Unknown WSDL"
	}
	version := d.TargetNamespace
	if version == "" {
		version = "WSDL 1.1"
	}
	return Info{Title: "WSDL Service: " + name, APIVersion: "1.1", SpecVersion: version}
}

type xmlRef struct {
	Message string `xml:"message,attr"`
}

type xmlSOAPOperation struct {
	SOAPAction string `xml:"soapAction,attr"`
	Style      string `xml:"style,attr"`
}

type xmlSOAPBinding struct {
	Style     string `xml:"style,attr"`
	Transport string `xml:"transport,attr"`
}

type xmlAddress struct {
	Location string `xml:"location,attr"`
}

type xmlDefinitions struct {
	Name            string `xml:"name,attr"`
	TargetNamespace string `xml:"targetNamespace,attr"`
	Messages        []struct {
		Name  string `xml:"name,attr"`
		Parts []struct {
			Name    string `xml:"name,attr"`
			Type    string `xml:"type,attr"`
			Element string `xml:"element,attr"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ part"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ message"`
	PortTypes []struct {
		Name       string `xml:"name,attr"`
		Operations []struct {
			Name   string  `xml:"name,attr"`
			Input  *xmlRef `xml:"http://schemas.xmlsoap.org/wsdl/ input"`
			Output *xmlRef `xml:"http://schemas.xmlsoap.org/wsdl/ output"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ operation"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ portType"`
	Bindings []struct {
		Name       string          `xml:"name,attr"`
		Type       string          `xml:"type,attr"`
		SOAP       *xmlSOAPBinding `xml:"http://schemas.xmlsoap.org/wsdl/soap/ binding"`
		SOAP12     *xmlSOAPBinding `xml:"http://schemas.xmlsoap.org/wsdl/soap12/ binding"`
		Operations []struct {
			Name   string            `xml:"name,attr"`
			SOAP   *xmlSOAPOperation `xml:"http://schemas.xmlsoap.org/wsdl/soap/ operation"`
			SOAP12 *xmlSOAPOperation `xml:"http://schemas.xmlsoap.org/wsdl/soap12/ operation"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ operation"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ binding"`
	Services []struct {
		Name  string `xml:"name,attr"`
		Ports []struct {
			Name    string      `xml:"name,attr"`
			Binding string      `xml:"binding,attr"`
			SOAP    *xmlAddress `xml:"http://schemas.xmlsoap.org/wsdl/soap/ address"`
			SOAP12  *xmlAddress `xml:"http://schemas.xmlsoap.org/wsdl/soap12/ address"`
		} `xml:"http://schemas.xmlsoap.org/wsdl/ port"`
	} `xml:"http://schemas.xmlsoap.org/wsdl/ service"`
}

// NewXMLDecoder returns a decoder that understands non-UTF-8 encodings declared in
// the XML prolog.
func NewXMLDecoder(raw []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// ParseWSDL decodes a WSDL 1.1 document into lookup tables.
func ParseWSDL(raw []byte) (*WSDLDocument, error) {
	var defs xmlDefinitions
	if err := NewXMLDecoder(raw).Decode(&defs); err != nil {
		return nil, apierrors.NewDocumentError("wsdl", "invalid WSDL XML", err)
	}

	doc := &WSDLDocument{
		Name:            defs.Name,
		TargetNamespace: defs.TargetNamespace,
		Messages:        make(map[string]WSDLMessage, len(defs.Messages)),
		PortTypes:       make(map[string]WSDLPortType, len(defs.PortTypes)),
		Bindings:        make(map[string]WSDLBinding, len(defs.Bindings)),
	}

	for _, m := range defs.Messages {
		msg := WSDLMessage{Name: m.Name}
		for _, p := range m.Parts {
			msg.Parts = append(msg.Parts, WSDLPart{Name: p.Name, Type: p.Type, Element: p.Element})
		}
		doc.Messages[m.Name] = msg
	}

	for _, pt := range defs.PortTypes {
		out := WSDLPortType{Name: pt.Name}
		for _, op := range pt.Operations {
			o := WSDLOperation{Name: op.Name}
			if op.Input != nil {
				o.Input = op.Input.Message
			}
			if op.Output != nil {
				o.Output = op.Output.Message
			}
			out.Operations = append(out.Operations, o)
		}
		doc.PortTypes[pt.Name] = out
	}

	for _, b := range defs.Bindings {
		out := WSDLBinding{
			Name:       b.Name,
			PortType:   b.Type,
			Operations: make(map[string]WSDLBindingOperation, len(b.Operations)),
		}
		if sb := firstNonNil(b.SOAP, b.SOAP12); sb != nil {
			out.Style, out.Transport = sb.Style, sb.Transport
		}
		for _, op := range b.Operations {
			bo := WSDLBindingOperation{Name: op.Name}
			if so := firstNonNil(op.SOAP, op.SOAP12); so != nil {
				bo.SOAPAction, bo.Style = so.SOAPAction, so.Style
			}
			out.Operations[op.Name] = bo
		}
		doc.Bindings[b.Name] = out
	}

	for _, s := range defs.Services {
		svc := WSDLService{Name: s.Name}
		for _, p := range s.Ports {
			port := WSDLPort{Name: p.Name, Binding: p.Binding}
			if addr := firstNonNil(p.SOAP, p.SOAP12); addr != nil {
				port.Location = addr.Location
			}
			svc.Ports = append(svc.Ports, port)
		}
		doc.Services = append(doc.Services, svc)
	}

	return doc, nil
}

func firstNonNil[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// LocalName strips a namespace prefix: "tns:Foo" becomes "Foo".
func LocalName(qname string) string {
	if i := strings.LastIndex(qname, ":"); i >= 0 {
		return qname[i+1:]
	}
	return qname
}
