// Package sockets implements TCP and UDP ops over the resource table.
//
// Ops:
//
//	net_listen            {hostname, port, transport}  -> {rid, localAddr}
//	net_accept            {rid}                        -> {rid, localAddr, remoteAddr}
//	net_connect           {hostname, port}             -> {rid, localAddr, remoteAddr}
//	net_shutdown          {rid, how}
//	net_datagram_send     {rid, hostname, port} + buf  -> bytes sent
//	net_datagram_receive  {rid, size}                  -> {data, remoteAddr}
//
// Every address is checked against the session's net permissions first.
// A second accept on a listener while one is pending fails with a busy
// error. Datagram sends and receives on one socket queue behind each other.
// Closing a listener or socket cancels whatever is waiting on it.
package sockets
