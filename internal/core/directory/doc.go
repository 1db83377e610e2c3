// Package directory 实现命名目录（rendezvous）服务
//
// Service 拥有自己的内核任务，在其中为每个注册保存一个发送权限：
//
//   - Declare 预声明服务：目录分配端点并保存接收权限，进程通过 CheckIn 领取
//   - Register 注册名字；已有注册仍存活时失败，已死亡的注册被替换
//   - Lookup 把注册的发送权限拷贝到调用方任务
//
// 名字按 (name, scope) 区分，scope 为全局或某个进程。
package directory
