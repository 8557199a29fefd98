/*
Package tlsLayer provides the tls carrier used by the "tls" transport.

客户端可选使用 utls 来模拟浏览器的指纹; 服务端 未给出证书时 自动生成随机证书.
*/
package tlsLayer

import (
	"crypto/tls"

	utls "github.com/refraction-networking/utls"
)

type Conf struct {
	Host     string //server name
	Insecure bool

	CertFile, KeyFile string

	AlpnList []string

	// 为空时使用 官方 tls; 否则使用 utls 与对应指纹,
	// 可为 chrome, firefox, ios, safari, golang, android, 360, edge, random
	UtlsFingerprint string
}

func GetTlsConfig(isServer bool, conf Conf) (*tls.Config, error) {
	c := &tls.Config{
		InsecureSkipVerify: conf.Insecure,
		ServerName:         conf.Host,
		NextProtos:         conf.AlpnList,
		MinVersion:         tls.VersionTLS12,
	}

	if isServer {
		certArray, err := GetCertArrayFromFile(conf.CertFile, conf.KeyFile)
		if err != nil {
			return nil, err
		}
		c.Certificates = certArray
	}
	return c, nil
}

func GetUTlsConfig(conf Conf) utls.Config {
	return utls.Config{
		InsecureSkipVerify: conf.Insecure,
		ServerName:         conf.Host,
		NextProtos:         conf.AlpnList,
	}
}
