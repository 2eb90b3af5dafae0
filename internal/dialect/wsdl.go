package dialect

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PentesterFlow/APIFuzz/internal/document"
	apierrors "github.com/PentesterFlow/APIFuzz/internal/errors"
	"github.com/PentesterFlow/APIFuzz/internal/logger"
)

const tempuri = "http://tempuri.org/"

// WSDLOperation is the Ref of WSDL endpoints.
type WSDLOperation struct {
	Service    string
	Port       string
	Binding    string
	PortType   string
	Name       string
	Input      string
	Output     string
	Location   string
	SOAPAction string
}

type wsdlStrategy struct {
	doc    *document.WSDLDocument
	opts   Options
	values *soapValues
	log    *logger.Logger
}

func newWSDL(doc *document.WSDLDocument, opts Options) *wsdlStrategy {
	return &wsdlStrategy{
		doc:    doc,
		opts:   opts,
		values: newSOAPValues(opts.Synth, opts.Catalog),
		log:    opts.Logger,
	}
}

func (*wsdlStrategy) Dialect() document.Dialect { return document.WSDL }

// Extract emits one endpoint per portType operation reachable from a service
// port. Ports with an unknown binding or portType are logged and skipped.
func (s *wsdlStrategy) Extract(ctx context.Context) ([]Endpoint, error) {
	var eps []Endpoint
	for _, svc := range s.doc.Services {
		for _, port := range svc.Ports {
			if err := ctx.Err(); err != nil {
				return nil, apierrors.NewCancelledError(port.Location, "extract")
			}
			bindingName := document.LocalName(port.Binding)
			binding, ok := s.doc.Bindings[bindingName]
			if !ok {
				s.log.ErrorEvent(apierrors.NewExtractionError(svc.Name, "binding not found: "+bindingName), port.Location, "extract")
				continue
			}
			ptName := document.LocalName(binding.PortType)
			pt, ok := s.doc.PortTypes[ptName]
			if !ok {
				s.log.ErrorEvent(apierrors.NewExtractionError(svc.Name, "portType not found: "+ptName), port.Location, "extract")
				continue
			}
			for _, op := range pt.Operations {
				ref := &WSDLOperation{
					Service:  svc.Name,
					Port:     port.Name,
					Binding:  bindingName,
					PortType: ptName,
					Name:     op.Name,
					Input:    op.Input,
					Output:   op.Output,
					Location: port.Location,
				}
				ref.SOAPAction = s.soapAction(binding, ref)
				eps = append(eps, Endpoint{
					Index:     len(eps),
					Method:    "POST",
					Path:      port.Location,
					Operation: op.Name,
					Ref:       ref,
				})
			}
		}
	}
	s.log.Debugf("extracted %d SOAP operations", len(eps))
	return eps, nil
}

// soapAction returns the quoted SOAPAction: the binding's own value, else the
// namespace of any "#"-style action in the document, else one derived from the
// service name.
func (s *wsdlStrategy) soapAction(b document.WSDLBinding, op *WSDLOperation) string {
	if bo, ok := b.Operations[op.Name]; ok && bo.SOAPAction != "" {
		return quote(bo.SOAPAction)
	}
	if example := s.exampleAction(); example != "" {
		ns := strings.Trim(example[:strings.Index(example, "#")], `"`)
		return quote(ns + "#" + op.Name)
	}
	return quote(ServiceNamespace(op.Service) + "#" + op.Name)
}

func (s *wsdlStrategy) exampleAction() string {
	names := make([]string, 0, len(s.doc.Bindings))
	for n := range s.doc.Bindings {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		ops := s.doc.Bindings[n].Operations
		opNames := make([]string, 0, len(ops))
		for on := range ops {
			opNames = append(opNames, on)
		}
		sort.Strings(opNames)
		for _, on := range opNames {
			if a := ops[on].SOAPAction; strings.Contains(a, "#") {
				return a
			}
		}
	}
	return ""
}

// ServiceNamespace derives "urn:<name>" from a service name with its Service
// suffixes removed, or "urn:default" when nothing is left.
func ServiceNamespace(service string) string {
	clean := strings.ReplaceAll(service, "ServiceService", "Service")
	clean = strings.ReplaceAll(clean, "Service", "")
	clean = strings.ReplaceAll(clean, "service", "")
	if clean == "" {
		return "urn:default"
	}
	return "urn:" + clean
}

// interfaceNamespace picks the namespace of the operation element: a urn taken
// from the SOAPAction, a urn built from the portType or binding when the
// document uses tempuri, the target namespace, or the service-derived urn.
func (s *wsdlStrategy) interfaceNamespace(op *WSDLOperation) string {
	if i := strings.Index(op.SOAPAction, "#"); i >= 0 {
		if ns := strings.Trim(op.SOAPAction[:i], `"`); strings.HasPrefix(ns, "urn:") {
			return ns
		}
	}
	if tns := s.doc.TargetNamespace; tns != "" {
		if tns == tempuri {
			name := op.PortType
			if name == "" {
				name = strings.NewReplacer("binding", "", "Binding", "").Replace(op.Binding)
			}
			if name != "" {
				return "urn:" + name
			}
		}
		return tns
	}
	return ServiceNamespace(op.Service)
}

// Build returns the single POST of a WSDL operation.
func (s *wsdlStrategy) Build(ep Endpoint) ([]*ProbeRequest, error) {
	op, ok := ep.Ref.(*WSDLOperation)
	if !ok {
		return nil, apierrors.NewBuildError(ep.Path, ep.Operation, errUnexpectedRef)
	}
	if op.Location == "" {
		return nil, apierrors.NewBuildError("", op.Name, fmt.Errorf("port %s has no address", op.Port))
	}

	ns := s.interfaceNamespace(op)
	req := &ProbeRequest{
		Endpoint:    ep.Index,
		Method:      "POST",
		URL:         op.Location,
		ContentType: "text/xml; charset=utf-8",
		Headers: map[string]string{
			"User-Agent":   UserAgent,
			"Content-Type": "text/xml; charset=utf-8",
			"SOAPAction":   op.SOAPAction,
		},
		Body:      []byte(s.envelope(op, ns)),
		Service:   op.Service,
		Operation: op.Name,
		Namespace: ns,
	}
	mergeHeaders(req.Headers, s.opts.Headers)
	return []*ProbeRequest{req}, nil
}

// Expand returns the element text of a message part descriptor.
func (s *wsdlStrategy) Expand(schema map[string]any) any {
	return s.values.forPart(str(schema["name"]), str(schema["type"]))
}

func (s *wsdlStrategy) envelope(op *WSDLOperation, ns string) string {
	var parts []document.WSDLPart
	if msg, ok := s.doc.Messages[document.LocalName(op.Input)]; ok {
		parts = msg.Parts
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"` + "\n")
	b.WriteString(`               xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` + "\n")
	fmt.Fprintf(&b, "               xmlns:tran=\"%s\">\n", ns)
	b.WriteString("  <soap:Header/>\n  <soap:Body>\n")
	fmt.Fprintf(&b, "    <tran:%s>\n", op.Name)
	for _, p := range parts {
		fmt.Fprintf(&b, "      <%s>%s</%s>\n", p.Name, s.Expand(paramSchema(p.Name, p.Type)), p.Name)
	}
	fmt.Fprintf(&b, "    </tran:%s>\n", op.Name)
	b.WriteString("  </soap:Body>\n</soap:Envelope>")
	return b.String()
}

func quote(s string) string {
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) > 1 {
		return s
	}
	return `"` + s + `"`
}
