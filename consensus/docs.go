package consensus

//
//            +--------------------------- tick ----------------------------+
//            v                                                             |
//   +-----------------+    +---------+    +--------------+    +------------+------+
//   | produce (slot)  +--->| prepare +--->|    commit    +--->|   commit_local    |
//   +-----------------+    +---------+    +--------------+    +---------+---------+
//                                                                       |
//                               +---------------------------------------+
//                               v
//                       +---------------+    +------------------+
//                       |  checkpoint   +--->| checkpoint_local |
//                       +---------------+    +--------+---------+
//                                                     |
//              (LIB没有推进且超过view_change_timeout)   v
//                       +---------------+    +------------------+
//                       |   new view    |<---+   view change    |  每次重试等待时间翻倍
//                       +---------------+    +------------------+
//
//State - 共识状态机，main goroutine
//	- chain.Controller - 区块的验证、分叉切换和不可逆区块
//	- pbft.Database - prepare/commit投票、view change和checkpoint
//	- EventSwitch - 本节点生成的区块和pbft消息通过事件广播给网络层
