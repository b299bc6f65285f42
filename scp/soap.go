package scp

import (
	"context"
	"net/http"
	"strings"

	"emperror.dev/errors"
	"github.com/beevik/etree"

	"github.com/ncwatch/ncwatch/remote"
)

const (
	soapNS    = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS = "http://enduser.service.web.vcp.netcup.de/"
)

type param struct {
	name  string
	value string
}

func envelope(method string, params ...param) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", soapNS)
	env.CreateAttr("xmlns:end", serviceNS)
	env.CreateElement("soapenv:Header")
	op := env.CreateElement("soapenv:Body").CreateElement("end:" + method)
	for _, p := range params {
		op.CreateElement(p.name).SetText(p.value)
	}
	b, err := doc.WriteToBytes()
	return b, errors.WithStack(err)
}

// call sends one SOAP request and returns the parsed response document. A
// SOAP fault is returned as a rejection.
func (c *Client) call(ctx context.Context, method string, params ...param) (*etree.Document, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := envelope(method, params...)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(ctx, http.MethodPost, c.endpoint, body, func(r *http.Request) {
		r.Header.Set("Content-Type", "text/xml; charset=utf-8")
		r.Header.Set("SOAPAction", `""`)
	})
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := res.Read()
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if perr := doc.ReadFromBytes(b); perr != nil {
		if res.HasError() {
			return nil, errors.WithStack(res.Error())
		}
		return nil, errors.Wrap(perr, "scp: could not parse response")
	}
	if fault := doc.FindElement("//Fault"); fault != nil {
		msg := "soap fault"
		if fs := fault.FindElement("faultstring"); fs != nil {
			msg = strings.TrimSpace(fs.Text())
		}
		return nil, errors.WithStack(remote.NewRequestError(collaborator, method+": "+msg))
	}
	if res.HasError() {
		return nil, errors.WithStack(res.Error())
	}
	return doc, nil
}
