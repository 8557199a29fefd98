package tlsLayer

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	mathrand "math/rand"
	"net"
	"os"
	"time"

	"github.com/Fengzhiying2017/blinksocks/utils"
	"github.com/biter777/countries"
	"go.uber.org/zap"
)

// 使用 ecc p256 方式生成证书, 证书主体的 国家 与 公司名 是随机的.
func GenerateRandomCertKey() (certPEM []byte, keyPEM []byte, err error) {
	clist := countries.All()
	country := clist[mathrand.Intn(len(clist))]

	companyName := utils.GenerateRandomString()

	if ce := utils.CanLogInfo("generate random cert with"); ce != nil {
		ce.Write(zap.String("country", country.Info().Name), zap.String("company", companyName))
	}

	subject := pkix.Name{
		Country:      []string{country.Alpha2()},
		Province:     []string{country.Capital().String()},
		Organization: []string{companyName},
		CommonName:   "www." + companyName + ".com",
	}

	max := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, max)
	if err != nil {
		return
	}
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      subject,
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{subject.CommonName},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return
	}

	b, err := x509.MarshalECPrivateKey(rootKey)
	if err != nil {
		return
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: b})

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	return
}

func GenerateRandomTLSCert() ([]tls.Certificate, error) {
	c, k, err := GenerateRandomCertKey()
	if err != nil {
		return nil, err
	}
	tlsCert, err := tls.X509KeyPair(c, k)
	if err != nil {
		return nil, err
	}
	return []tls.Certificate{tlsCert}, nil
}

// 会调用 GenerateRandomCertKey 来生成证书，并输出到文件
func GenerateRandomCertKeyFiles(cfn, kfn string) error {
	cb, kb, err := GenerateRandomCertKey()
	if err != nil {
		return err
	}
	if err = os.WriteFile(cfn, cb, 0644); err != nil {
		return err
	}
	return os.WriteFile(kfn, kb, 0600)
}

// 若 certFile, keyFile 有一项没给出，则会自动生成随机证书.
// 给出了但加载失败时 返回错误, 而不是悄悄换成随机证书.
func GetCertArrayFromFile(certFile, keyFile string) ([]tls.Certificate, error) {
	if certFile == "" || keyFile == "" {
		if ce := utils.CanLogDebug("no cert given, generating random cert in memory"); ce != nil {
			ce.Write()
		}
		return GenerateRandomTLSCert()
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, utils.ErrInErr{ErrDesc: "load cert failed", ErrDetail: err, Data: certFile}
	}
	return []tls.Certificate{cert}, nil
}
