package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

var (
	typeOfCaller = reflect.TypeFor[Caller]()
	typeOfError  = reflect.TypeFor[error]()
)

type methodType struct {
	method     reflect.Method
	withCaller bool // method takes a Caller before its arguments
	ArgType    reflect.Type
	ReplyType  reflect.Type
}

// newArg allocates an argument value to decode into. The returned value is
// what gets decoded; call passes the pointer or its element as the method
// expects.
func (m *methodType) newArg() reflect.Value {
	if m.ArgType.Kind() == reflect.Pointer {
		return reflect.New(m.ArgType.Elem())
	}
	return reflect.New(m.ArgType)
}

type service struct {
	name   string                 // name of service
	rcvr   reflect.Value          // receiver of methods for the service
	method map[string]*methodType // registered methods
}

// call invokes the method and turns a panic into an error so one bad
// request cannot take the connection down.
func (svc *service) call(mtype *methodType, caller Caller, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("crpc.Server: panic in %s.%s: %v", svc.name, mtype.method.Name, r)
			err = fmt.Errorf("rpc: internal server error during %s.%s", svc.name, mtype.method.Name)
		}
	}()

	if mtype.ArgType.Kind() != reflect.Pointer {
		argv = argv.Elem()
	}
	in := []reflect.Value{svc.rcvr, argv, replyv}
	if mtype.withCaller {
		in = []reflect.Value{svc.rcvr, reflect.ValueOf(caller), argv, replyv}
	}
	if errv := mtype.method.Func.Call(in)[0]; !errv.IsNil() {
		return errv.Interface().(error)
	}
	return nil
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

// Register publishes the suitable methods of rcvr under the name of its
// type. A method is suitable when it looks like
//
//	func (t *T) Method(args *Args, reply *Reply) error
//	func (t *T) Method(caller crpc.Caller, args *Args, reply *Reply) error
//
// args may also be a value.
func (srv *Server) Register(rcvr any) error {
	rv := reflect.ValueOf(rcvr)
	sname := reflect.Indirect(rv).Type().Name()
	switch {
	case sname == "":
		return registerError("no service name for type %s", rv.Type())
	case !token.IsExported(sname):
		return registerError("type %s is not exported", sname)
	}

	s := &service{name: sname, rcvr: rv, method: suitableMethods(rv.Type())}
	if len(s.method) == 0 {
		return registerError("type %s has no exported methods of suitable type", sname)
	}
	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return registerError("service already defined: %s", sname)
	}

	for m := range s.method {
		log.Debugf("rpc.Register: %s.%s", sname, m)
	}
	return nil
}

func registerError(format string, args ...any) error {
	err := fmt.Errorf("rpc.Register: "+format, args...)
	log.Error(err)
	return err
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableMethods returns suitable Rpc methods of typ. Unsuitable exported
// methods are skipped with a log line.
func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		if !method.IsExported() {
			continue
		}
		if mt, why := methodShape(method); why != "" {
			log.Errorf("rpc.Register: method %q %s", method.Name, why)
		} else {
			methods[method.Name] = mt
		}
	}
	return methods
}

func methodShape(method reflect.Method) (*methodType, string) {
	mtype := method.Type

	first := 1
	switch {
	case mtype.NumIn() == 4 && mtype.In(1) == typeOfCaller:
		first = 2
	case mtype.NumIn() != 3:
		return nil, fmt.Sprintf("has %d input parameters; needs three, or four with a Caller", mtype.NumIn())
	}

	argType, replyType := mtype.In(first), mtype.In(first+1)
	switch {
	case !isExportedOrBuiltinType(argType):
		return nil, fmt.Sprintf("has unexported argument type %s", argType)
	case replyType.Kind() != reflect.Pointer:
		return nil, fmt.Sprintf("has non-pointer reply type %s", replyType)
	case !isExportedOrBuiltinType(replyType):
		return nil, fmt.Sprintf("has unexported reply type %s", replyType)
	case mtype.NumOut() != 1 || mtype.Out(0) != typeOfError:
		return nil, "must return exactly one error"
	}
	return &methodType{method: method, withCaller: first == 2, ArgType: argType, ReplyType: replyType}, ""
}

func (srv *Server) lookup(serviceMethod string) (*service, *methodType, error) {
	dot := strings.LastIndex(serviceMethod, ".")
	if dot < 0 {
		return nil, nil, fmt.Errorf("rpc: service/method request ill-formed: %q", serviceMethod)
	}
	svci, ok := srv.serviceMap.Load(serviceMethod[:dot])
	if !ok {
		return nil, nil, fmt.Errorf("rpc: can't find service %q", serviceMethod[:dot])
	}
	svc := svci.(*service)
	mtype := svc.method[serviceMethod[dot+1:]]
	if mtype == nil {
		return nil, nil, fmt.Errorf("rpc: can't find method %q", serviceMethod)
	}
	return svc, mtype, nil
}

// Serve accepts connections until ctx is cancelled, then returns ctx.Err().
// Temporary accept errors are retried with backoff.
func (srv *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		log.Infof("crpc.Server: shutting down listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	})
	defer stop()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		rw, err := srv.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = min(max(2*tempDelay, 5*time.Millisecond), time.Second)
				log.Warnf("crpc.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("crpc.Server: accept failed on %s: %v", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("crpc.Server: accepted connection from %s", rw.RemoteAddr())
		c := &serverConn{srv: srv, conn: rw, dec: decMode.NewDecoder(rw), enc: encMode.NewEncoder(rw)}
		go c.serve(ctx)
	}
}

// serverConn handles the requests of one connection in order.
type serverConn struct {
	srv  *Server
	conn net.Conn
	dec  *cbor.Decoder
	enc  *cbor.Encoder
}

func (c *serverConn) serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()
	defer c.conn.Close()

	for {
		if err := c.serveRequest(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Debugf("crpc.Server: connection %s closed", c.conn.RemoteAddr())
			} else {
				log.Errorf("crpc.Server: connection %s: %v", c.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

// serveRequest reads one request and writes its response. Errors of the
// called method go back to the client; a returned error means the
// connection is unusable.
func (c *serverConn) serveRequest() error {
	var req RequestHeader
	if err := c.dec.Decode(&req); err != nil {
		return err
	}

	svc, mtype, err := c.srv.lookup(req.Method)
	if err != nil {
		// Skip the argument so the stream stays in sync
		var skip cbor.RawMessage
		if derr := c.dec.Decode(&skip); derr != nil {
			return fmt.Errorf("skip argument of %q: %w", req.Method, derr)
		}
		log.Warnf("crpc.Server: %v (from %s)", err, c.conn.RemoteAddr())
		return c.enc.Encode(&ResponseHeader{Seq: req.Seq, Err: err.Error()})
	}

	argv := mtype.newArg()
	if err := c.dec.Decode(argv.Interface()); err != nil {
		return fmt.Errorf("decode argument of %s: %w", req.Method, err)
	}

	replyv := reflect.New(mtype.ReplyType.Elem())
	if err := svc.call(mtype, req.Caller, argv, replyv); err != nil {
		log.Debugf("crpc.Server: %s by %q failed: %v", req.Method, req.Caller, err)
		return c.enc.Encode(&ResponseHeader{Seq: req.Seq, Err: err.Error()})
	}

	if err := c.enc.Encode(&ResponseHeader{Seq: req.Seq}); err != nil {
		return err
	}
	return c.enc.Encode(replyv.Interface())
}

// Addr returns the addresses the server can be reached on. A listener on
// an unspecified IP is expanded to the addresses of the interfaces that are
// up, keeping the IP family of the listener.
func (srv *Server) Addr() []net.Addr {
	listenerAddr := srv.listener.Addr()

	tcpAddr, ok := listenerAddr.(*net.TCPAddr)
	if !ok {
		hostStr, portStr, err := net.SplitHostPort(listenerAddr.String())
		if err != nil {
			log.Errorf("crpc.Server.Addr: failed to parse listener address '%s': %v", listenerAddr.String(), err)
			return []net.Addr{listenerAddr}
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return []net.Addr{listenerAddr}
		}
		tcpAddr = &net.TCPAddr{IP: net.ParseIP(hostStr), Port: port}
	}

	if tcpAddr.IP != nil && !tcpAddr.IP.IsUnspecified() {
		return []net.Addr{tcpAddr}
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("crpc.Server.Addr: failed to get network interfaces: %v", err)
		return []net.Addr{listenerAddr}
	}

	seen := make(map[string]bool)
	var addresses []net.Addr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		ifaddrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("crpc.Server.Addr: could not get addresses for interface %s: %v", iface.Name, err)
			continue
		}
		for _, addr := range ifaddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsUnspecified() {
				continue
			}
			isIPv4 := ipnet.IP.To4() != nil
			if tcpAddr.IP.Equal(net.IPv4zero) && !isIPv4 || tcpAddr.IP.Equal(net.IPv6unspecified) && isIPv4 {
				continue
			}
			a := &net.TCPAddr{IP: ipnet.IP, Port: tcpAddr.Port}
			if !seen[a.String()] {
				seen[a.String()] = true
				addresses = append(addresses, a)
			}
		}
	}

	if len(addresses) == 0 {
		return []net.Addr{listenerAddr}
	}
	return addresses
}
