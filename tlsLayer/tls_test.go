package tlsLayer_test

import (
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/Fengzhiying2017/blinksocks/tlsLayer"
)

func testTls(t *testing.T, serverConf, clientConf tlsLayer.Conf) {
	server, err := tlsLayer.NewServer(serverConf)
	if err != nil {
		t.Fatal(err)
	}
	client, err := tlsLayer.NewClient(clientConf)
	if err != nil {
		t.Fatal(err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()

	go func() {
		lc, err := listener.Accept()
		if err != nil {
			return
		}
		defer lc.Close()
		tc, err := server.Handshake(lc)
		if err != nil {
			t.Log("server handshake", err)
			return
		}
		io.Copy(tc, tc)
	}()

	rc, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	tc, err := client.Handshake(rc)
	if err != nil {
		t.Fatal(err)
	}

	hello := []byte("hello")
	if _, err = tc.Write(hello); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len(hello))
	if _, err = io.ReadFull(tc, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatal(string(buf))
	}
}

func TestTlsRandomCert(t *testing.T) {
	testTls(t, tlsLayer.Conf{}, tlsLayer.Conf{Host: "localhost", Insecure: true})
}

func TestTlsCertFiles(t *testing.T) {
	dir := t.TempDir()
	cfn, kfn := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "cert.key")
	if err := tlsLayer.GenerateRandomCertKeyFiles(cfn, kfn); err != nil {
		t.Fatal(err)
	}
	testTls(t, tlsLayer.Conf{CertFile: cfn, KeyFile: kfn}, tlsLayer.Conf{Host: "localhost", Insecure: true})

	if _, err := tlsLayer.NewServer(tlsLayer.Conf{CertFile: filepath.Join(dir, "nope.pem"), KeyFile: kfn}); err == nil {
		t.Fatal("missing cert file should fail")
	}
}

func TestUtls(t *testing.T) {
	testTls(t, tlsLayer.Conf{}, tlsLayer.Conf{Host: "localhost", Insecure: true, UtlsFingerprint: "golang"})
}
